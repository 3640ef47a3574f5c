package pgx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

func TestToVector_EmptyIsNull(t *testing.T) {
	if v := toVector(nil); v != nil {
		t.Fatalf("expected nil for empty embedding, got %v", v)
	}
	v, ok := toVector([]float32{1, 2}).(pgvector.Vector)
	if !ok {
		t.Fatalf("expected pgvector.Vector")
	}
	if !reflect.DeepEqual(v.Slice(), []float32{1, 2}) {
		t.Fatalf("expected [1 2], got %v", v.Slice())
	}
}

func TestFromVector_Nil(t *testing.T) {
	if got := fromVector(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	vec := pgvector.NewVector([]float32{0.5})
	if got := fromVector(&vec); !reflect.DeepEqual(got, []float32{0.5}) {
		t.Fatalf("expected [0.5], got %v", got)
	}
}

func TestNotFound_MapsNoRows(t *testing.T) {
	if err := notFound(fmt.Errorf("scan: %w", pgxv5.ErrNoRows)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	other := errors.New("boom")
	if err := notFound(other); err != other {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	if err := notFound(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected foreign key violation not to match")
	}
}

func TestSourceColumns_Alias(t *testing.T) {
	if n := strings.Count(sourceColumns("sd"), "sd."); n != 11 {
		t.Fatalf("expected 11 prefixed columns, got %d", n)
	}
	if strings.Contains(sourceColumns(""), ".") {
		t.Fatalf("expected no alias prefix")
	}
}

func TestAttrsAndList_NeverNil(t *testing.T) {
	if attrs(nil) == nil {
		t.Fatalf("expected empty map")
	}
	if list(nil) == nil {
		t.Fatalf("expected empty slice")
	}
}

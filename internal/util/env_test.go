package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("KG_TEST_INTERVAL", "90")
	if got := GetEnvDuration("KG_TEST_INTERVAL", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}

	t.Setenv("KG_TEST_INTERVAL", "2m")
	if got := GetEnvDuration("KG_TEST_INTERVAL", time.Second); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}

	t.Setenv("KG_TEST_INTERVAL", "soon")
	if got := GetEnvDuration("KG_TEST_INTERVAL", time.Second); got != time.Second {
		t.Fatalf("expected default on invalid value, got %s", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("KG_TEST_LIST", " tidb , ,graph quality analysis,")
	got := GetEnvList("KG_TEST_LIST")
	want := []string{"tidb", "graph quality analysis"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if got := GetEnvList("KG_TEST_LIST_MISSING"); got != nil {
		t.Fatalf("expected nil for missing variable, got %v", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("KG_TEST_BOOL", "yes")
	if !GetEnvBool("KG_TEST_BOOL", true) {
		t.Fatal("expected default for unparseable value")
	}
	t.Setenv("KG_TEST_BOOL", "false")
	if GetEnvBool("KG_TEST_BOOL", true) {
		t.Fatal("expected false")
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_USER", "kg")
	t.Setenv("DATABASE_PASSWORD", "secret")
	t.Setenv("DATABASE_HOST", "db")
	t.Setenv("DATABASE_PORT", "")
	t.Setenv("DATABASE_NAME", "graphs")
	if got := DatabaseURL(); got != "postgres://kg:secret@db:5432/graphs?sslmode=disable" {
		t.Fatalf("unexpected url %s", got)
	}

	t.Setenv("DATABASE_URL", "postgres://override")
	if got := DatabaseURL(); got != "postgres://override" {
		t.Fatalf("expected DATABASE_URL to win, got %s", got)
	}
}

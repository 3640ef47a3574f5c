package migrate

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSourceURL_KeepsScheme(t *testing.T) {
	got, err := SourceURL("github://org/repo/migrations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "github://org/repo/migrations" {
		t.Fatalf("expected url unchanged, got %q", got)
	}
}

func TestSourceURL_RelativeDir(t *testing.T) {
	got, err := SourceURL("migrations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "file://") {
		t.Fatalf("expected file scheme, got %q", got)
	}
	if !strings.HasSuffix(got, filepath.ToSlash(string(filepath.Separator)+"migrations")) {
		t.Fatalf("expected absolute path ending in migrations, got %q", got)
	}
}

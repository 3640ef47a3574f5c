package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tidb.md")
	if err := os.WriteFile(p, []byte("# TiDB"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx := context.Background()

	for _, link := range []string{p, "file://" + p} {
		doc, err := NewFileLoader("").Load(ctx, link)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", link, err)
		}
		if string(doc.Data) != "# TiDB" || doc.Name != "tidb.md" || doc.ContentType != "text/markdown" {
			t.Fatalf("%s: unexpected document %+v", link, doc)
		}
	}

	rooted := NewFileLoader(dir)
	if _, err := rooted.Load(ctx, "tidb.md"); err != nil {
		t.Fatalf("expected relative path below root to load, got %v", err)
	}
	if _, err := rooted.Load(ctx, "../../etc/passwd"); err == nil {
		t.Fatalf("expected path outside the root to fail")
	}
	if _, err := rooted.Load(ctx, "missing.md"); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

package util

import "testing"

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash([]byte("Acme Corp builds rockets"))
	b := ContentHash([]byte("Acme Corp builds rockets"))
	if a != b {
		t.Fatalf("expected equal hashes, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == ContentHash([]byte("Acme Corp builds rockets.")) {
		t.Fatal("expected different hash for different content")
	}
}

func TestContentVersion_AttributeOrder(t *testing.T) {
	v1 := ContentVersion("doc", "file:///a.md", "h", map[string]any{"topic_name": "acme", "author": "x"})
	v2 := ContentVersion("doc", "file:///a.md", "h", map[string]any{"author": "x", "topic_name": "acme"})
	if v1 != v2 {
		t.Fatalf("expected attribute order to be irrelevant")
	}
	v3 := ContentVersion("doc", "file:///a.md", "h2", map[string]any{"topic_name": "acme", "author": "x"})
	if v1 == v3 {
		t.Fatal("expected content hash change to change version")
	}
}

func TestVersionHash_OrderIndependent(t *testing.T) {
	a := VersionHash([]string{"b", "a", "c"})
	b := VersionHash([]string{"c", "b", "a"})
	if a != b {
		t.Fatalf("expected equal hashes, got %s and %s", a, b)
	}
	if a == VersionHash([]string{"a", "b"}) {
		t.Fatal("expected different hash for different set")
	}
}

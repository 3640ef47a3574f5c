package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const page = `<!DOCTYPE html>
<html><head><title>TiDB overview</title></head>
<body>
<nav><a href="/">Home</a> <a href="/docs">Docs</a></nav>
<article>
<h1>TiDB overview</h1>
<p>TiDB is an open source distributed SQL database developed by PingCAP. It supports hybrid
transactional and analytical processing workloads and is compatible with the MySQL protocol.</p>
<p>The storage layer is TiKV, a distributed transactional key value store that keeps data in
Raft groups. TiFlash adds a columnar replica for analytical queries on the same data.</p>
<p>PingCAP was founded in 2015 and the project is developed in the open with a large community
of contributors from many companies around the world.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestWebLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tidb":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(page))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewWebLoader(srv.Client())
	doc, err := l.Load(context.Background(), srv.URL+"/tidb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsHTML(doc.ContentType) || doc.Name != "tidb" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if string(doc.Data) != page {
		t.Fatalf("expected raw body to be kept")
	}

	text, err := ExtractArticle(doc.Data, doc.Link)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "distributed SQL database developed by PingCAP") {
		t.Fatalf("expected article text, got %q", text)
	}
	if strings.Contains(text, "<p>") {
		t.Fatalf("expected plain text, got markup")
	}

	if _, err := l.Load(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
}

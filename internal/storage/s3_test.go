package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body string
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("Distributed Databases!", "abc", "Report.MD"); got != "topics/distributed-databases/abc.md" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := ObjectKey("  ", "abc", "noext"); got != "topics/default/abc" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestUploadsPut(t *testing.T) {
	f := &fakePutter{}
	link, err := NewUploads(f, "raw").Put(context.Background(), "Databases", "tidb.md", strings.NewReader("# TiDB"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(link, "s3://raw/topics/databases/") || !strings.HasSuffix(link, ".md") {
		t.Fatalf("unexpected link %s", link)
	}
	if aws.ToString(f.in.ContentType) != "text/markdown" || f.body != "# TiDB" {
		t.Fatalf("unexpected upload %+v", f.in)
	}
	if f.in.Metadata["original-filename"] != "tidb.md" {
		t.Fatalf("expected original filename metadata")
	}
}

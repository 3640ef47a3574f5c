package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeGetter struct {
	objects map[string]string
	bucket  string
}

func (f *fakeGetter) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestParseLink(t *testing.T) {
	bucket, key, err := ParseLink("s3://docs/topics/tidb.md")
	if err != nil || bucket != "docs" || key != "topics/tidb.md" {
		t.Fatalf("unexpected parse: %s %s %v", bucket, key, err)
	}
	for _, bad := range []string{"s3://docs", "https://docs/tidb.md"} {
		if _, _, err := ParseLink(bad); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestS3Loader(t *testing.T) {
	getter := &fakeGetter{objects: map[string]string{"topics/tidb.md": "# TiDB"}}
	l := NewS3LoaderWithClient("default", getter)

	doc, err := l.Load(context.Background(), "s3://docs/topics/tidb.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if getter.bucket != "docs" || string(doc.Data) != "# TiDB" || doc.ContentType != "text/markdown" {
		t.Fatalf("unexpected document %+v from bucket %s", doc, getter.bucket)
	}

	if _, err := l.Load(context.Background(), "s3:///topics/tidb.md"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if getter.bucket != "default" {
		t.Fatalf("expected default bucket, got %s", getter.bucket)
	}
}

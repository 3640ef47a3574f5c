package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/loader"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(util.GetEnvString("S3_REGION", "us-east-1")),
		config.WithBaseEndpoint(util.GetEnv("S3_ENDPOINT")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("S3_ACCESS_KEY"),
			util.GetEnv("S3_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// ObjectPutter is the part of *s3.Client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploads stores raw uploads so the ETL worker can read them back through
// the s3 loader.
type Uploads struct {
	client ObjectPutter
	bucket string
}

func NewUploads(client ObjectPutter, bucket string) *Uploads {
	return &Uploads{client: client, bucket: bucket}
}

// ObjectKey places an upload below its topic. The id keeps uploads with the
// same file name apart.
func ObjectKey(topic, id, name string) string {
	ext := strings.ToLower(path.Ext(name))
	return fmt.Sprintf("topics/%s/%s%s", slug(topic), id, ext)
}

// Put uploads body and returns its s3:// link.
func (u *Uploads) Put(ctx context.Context, topic, name string, body io.Reader) (string, error) {
	key := ObjectKey(topic, util.NewID(), name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(loader.ContentTypeOf(name)),
		Metadata:    map[string]string{"original-filename": name},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "default"
	}
	return out
}

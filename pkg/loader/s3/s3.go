package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/loader"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the part of *s3.Client the loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads s3://bucket/key links. A link without a bucket uses the
// default bucket.
type S3Loader struct {
	bucket string
	client ObjectGetter
}

func NewS3LoaderWithClient(bucket string, client ObjectGetter) *S3Loader {
	return &S3Loader{bucket: bucket, client: client}
}

// NewS3LoaderParams configures an S3Loader with static credentials.
// Endpoint may point at an S3 compatible store such as MinIO.
type NewS3LoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func NewS3Loader(ctx context.Context, params NewS3LoaderParams) (*S3Loader, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &S3Loader{bucket: params.Bucket, client: client}, nil
}

// ParseLink splits an s3:// link into bucket and key.
func ParseLink(link string) (bucket, key string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 link %q: %w", link, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 link: %q", link)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 link %q has no key", link)
	}
	return u.Host, key, nil
}

func (l *S3Loader) Load(ctx context.Context, link string) (loader.Document, error) {
	bucket, key, err := ParseLink(link)
	if err != nil {
		return loader.Document{}, err
	}
	if bucket == "" {
		bucket = l.bucket
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return loader.Document{}, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return loader.Document{}, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}

	name := path.Base(key)
	contentType := aws.ToString(out.ContentType)
	if contentType == "" || contentType == "binary/octet-stream" {
		contentType = loader.ContentTypeOf(name)
	}
	return loader.Document{
		Link:        link,
		Name:        name,
		ContentType: contentType,
		Data:        buf.Bytes(),
	}, nil
}

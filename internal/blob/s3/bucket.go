// Package s3blob archives portfolio snapshots to an S3 bucket. Any
// S3-compatible provider (MinIO, R2) works through a custom endpoint.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// ClientConfig describes the bucket snapshots are written to.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint, e.g. "localhost:9000" for MinIO.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is prepended to every object key.
	Prefix    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
}

// bucketAPI is the part of the S3 API the archive needs.
type bucketAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Bucket is a domain.BlobWriter for one S3 bucket.
type Bucket struct {
	api    bucketAPI
	name   string
	prefix string
}

// New builds the SDK client from static credentials. No request is made;
// call Health to check the bucket is reachable.
func New(ctx context.Context, cfg ClientConfig) (*Bucket, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3blob: bucket is required")
	case cfg.Region == "":
		return nil, errors.New("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return newBucket(api, cfg.Bucket, cfg.Prefix), nil
}

func newBucket(api bucketAPI, name, prefix string) *Bucket {
	return &Bucket{api: api, name: name, prefix: strings.Trim(prefix, "/")}
}

// Put uploads data under the bucket prefix in a single request; snapshots
// are far below the multipart threshold.
func (b *Bucket) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	full := b.key(key)
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(full),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s/%s: %w", b.name, full, err)
	}
	return nil
}

// Health issues a HeadBucket, which fails on bad credentials as well as on
// a missing bucket.
func (b *Bucket) Health(ctx context.Context) error {
	if _, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", b.name, err)
	}
	return nil
}

// Close is a no-op; the SDK holds no connections that need releasing.
func (b *Bucket) Close() error { return nil }

func (b *Bucket) key(k string) string {
	if b.prefix == "" {
		return k
	}
	return path.Join(b.prefix, k)
}

// normaliseEndpoint adds a scheme to bare host:port endpoints.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

var _ domain.BlobWriter = (*Bucket)(nil)

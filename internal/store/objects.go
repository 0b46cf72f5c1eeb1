package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectInfo is the subset of object metadata the dashboard needs.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// BucketOptions configure the object store connection.
type BucketOptions struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Name            string
}

// Bucket wraps an S3-compatible bucket holding device media and screenshots.
type Bucket struct {
	client *minio.Client
	name   string
}

// NewBucket establishes the object store client.
func NewBucket(opts BucketOptions) (*Bucket, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &Bucket{client: client, name: opts.Name}, nil
}

// NewBucketWithClient wraps an existing client, mainly for tests.
func NewBucketWithClient(client *minio.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Name reports the bucket name.
func (b *Bucket) Name() string { return b.name }

// Ping verifies the bucket is reachable and exists.
func (b *Bucket) Ping(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %q does not exist", ErrUpstream, b.name)
	}
	return nil
}

// ListPrefixes enumerates the top-level common prefixes of the bucket, with
// the trailing separator stripped. Device ids are exactly these prefixes;
// there is no separate registry.
func (b *Bucket) ListPrefixes(ctx context.Context) ([]string, error) {
	var prefixes []string
	for object := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{Recursive: false}) {
		if object.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, object.Err)
		}
		// Non-recursive listings report common prefixes as keys ending in "/".
		if strings.HasSuffix(object.Key, "/") {
			prefixes = append(prefixes, strings.TrimSuffix(object.Key, "/"))
		}
	}
	return prefixes, nil
}

// ListObjects enumerates all objects under prefix, in key order.
func (b *Bucket) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for object := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return objects, nil
}

// PresignedGetURL generates a time-limited read URL for one object.
func (b *Bucket) PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.name, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return u.String(), nil
}

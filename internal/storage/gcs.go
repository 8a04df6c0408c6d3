package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store on a Google Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

// NewGCS connects to the configured bucket using ambient credentials.
func NewGCS(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	// DoesNotExist keeps the namespace append-only at the backend level.
	writer := s.bucket.Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return classify("put", key, err)
	}
	if err := writer.Close(); err != nil {
		return classify("put", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, classify("get", key, err)
	}
	return data, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	var objects []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		objects = append(objects, Object{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	return objects, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, classify("stat", key, err)
}

func (s *GCSStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Signing itself never touches the object, so check presence first to
	// honor the contract's NotFound behavior.
	if _, err := s.bucket.Object(key).Attrs(ctx); err != nil {
		return "", classify("sign", key, err)
	}
	url, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", classify("sign", key, err)
	}
	return url, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		return classify("delete", key, err)
	}
	return nil
}

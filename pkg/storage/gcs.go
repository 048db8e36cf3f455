package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore is a BlobStore backed by a Google Cloud Storage bucket.
// Credentials come from the environment (application default credentials).
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a blob store over the given bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

var _ BlobStore = (*GCSStore)(nil)

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", key, err)
	}
	return url, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

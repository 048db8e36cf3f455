// Package storage provides blob storage for raw uploaded files.
package storage

import (
	"context"
	"time"
)

// BlobStore stores raw upload bytes and hands back retrievable references.
// The pipeline depends only on "store bytes, get reference" and "fetch bytes
// by reference"; everything else is an implementation detail.
type BlobStore interface {
	// Put stores the bytes and returns an opaque key.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// SignedURL returns a time-limited direct-download link, or an empty
	// string if the backend cannot produce one.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process BlobStore used when no bucket is configured
// and in tests. Signed URLs are not supported.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

var _ BlobStore = (*MemoryStore)(nil)

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = buf
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *MemoryStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

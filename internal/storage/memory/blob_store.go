package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

// BlobStore stores rewritten documents in memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, id string, _ string, data []byte) (string, error) {
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = append([]byte(nil), data...)
	return "memory://" + id, nil
}

// GetObject returns the content for a memory:// URI.
func (s *BlobStore) GetObject(_ context.Context, uri string) ([]byte, error) {
	id := strings.TrimPrefix(uri, "memory://")
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, mirror.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// DeleteObject removes the content for a memory:// URI. Deleting a
// missing object is not an error.
func (s *BlobStore) DeleteObject(_ context.Context, uri string) error {
	id := strings.TrimPrefix(uri, "memory://")
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

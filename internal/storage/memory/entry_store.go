// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

// EntryStore keeps the entry list in memory.
type EntryStore struct {
	mu      sync.RWMutex
	entries []mirror.Entry
}

// NewEntryStore constructs an EntryStore.
func NewEntryStore() *EntryStore {
	return &EntryStore{}
}

// List returns a copy of the stored entries.
func (s *EntryStore) List(_ context.Context) ([]mirror.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mirror.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Save replaces the stored entry list.
func (s *EntryStore) Save(_ context.Context, entries []mirror.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]mirror.Entry, len(entries))
	copy(s.entries, entries)
	return nil
}

package cursor

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps cursors in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]Cursor
	closed  bool
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]Cursor), now: time.Now}
}

// Load returns the stored cursor, or the zero Cursor.
func (s *MemoryStore) Load(_ context.Context, asset string) (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Cursor{}, ErrClosed
	}
	return s.cursors[asset], nil
}

// Save stores c for asset. A zero cursor deletes the entry instead.
func (s *MemoryStore) Save(_ context.Context, asset string, c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if c.IsZero() {
		delete(s.cursors, asset)
		return nil
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now().UTC()
	}
	s.cursors[asset] = c
	return nil
}

// Delete removes the asset's cursor.
func (s *MemoryStore) Delete(_ context.Context, asset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.cursors, asset)
	return nil
}

// List returns a copy of every stored cursor.
func (s *MemoryStore) List(_ context.Context) (map[string]Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]Cursor, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out, nil
}

// Close drops all cursors. Later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cursors = nil
	return nil
}

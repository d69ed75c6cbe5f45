package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var (
	_ relay.CursorStore     = (*CursorStore)(nil)
	_ relay.CursorOverrider = (*CursorStore)(nil)
)

// CursorStore keeps cursors in a map keyed by source.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]relay.Cursor
}

// NewCursorStore constructs an empty CursorStore.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[string]relay.Cursor)}
}

// Load returns the cursor for source, if one was saved.
func (s *CursorStore) Load(_ context.Context, source string) (relay.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[source]
	return c, ok, nil
}

// Save stores cursor unless a higher position is already recorded.
func (s *CursorStore) Save(_ context.Context, cursor relay.Cursor) error {
	if cursor.Source == "" {
		return fmt.Errorf("cursor source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cursors[cursor.Source]; ok && prev.LastID > cursor.LastID {
		return nil
	}
	s.cursors[cursor.Source] = cursor
	return nil
}

// Overwrite replaces the stored cursor unconditionally.
func (s *CursorStore) Overwrite(_ context.Context, cursor relay.Cursor) error {
	if cursor.Source == "" {
		return fmt.Errorf("cursor source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursor.Source] = cursor
	return nil
}

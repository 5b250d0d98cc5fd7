package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InMemoryStore keeps encoded snapshots in process memory for local/dev use.
// Snapshots are stored encoded so callers never share slices with the store.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryStore) Save(_ context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[snap.SessionID] = raw
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, sessionID string) (Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.blobs[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

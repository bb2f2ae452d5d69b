package store

import (
	"context"
	"sync"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
)

// Memory is an in-process seen store. State is lost on restart, which means
// a restarted bot may re-post notes the previous run already handled; use
// the SQLite store when that matters.
type Memory struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]time.Time)}
}

// Contains reports whether the event ID has been committed.
func (m *Memory) Contains(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[id]
	return ok, nil
}

// Commit records the event ID, returning domain.ErrAlreadySeen if it was
// already present.
func (m *Memory) Commit(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return domain.ErrAlreadySeen
	}
	m.seen[id] = time.Now().UTC()
	return nil
}

// Count returns the number of committed IDs.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.seen)), nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// Package store is the persistence collaborator: a best-effort,
// eventually-consistent record store for reputation and sandbox snapshots.
// In-memory engine state is always authoritative; a failed Save is logged
// and absorbed, never surfaced to the request path.
package store

import (
	"context"
	"sync"
)

// Record kinds used as key namespaces.
const (
	KindReputation = "rep"
	KindSandbox    = "sbx"
)

// Store persists opaque JSON-encoded records keyed by (kind, id).
// Load returns found=false (not an error) when no record exists.
type Store interface {
	Load(ctx context.Context, kind, id string) (data []byte, found bool, err error)
	Save(ctx context.Context, kind, id string, data []byte) error
}

// MemoryStore is an in-process Store for tests and standalone deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (m *MemoryStore) key(kind, id string) string { return kind + ":" + id }

// Load returns the stored record, if any.
func (m *MemoryStore) Load(_ context.Context, kind, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[m.key(kind, id)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Save stores a copy of the record.
func (m *MemoryStore) Save(_ context.Context, kind, id string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.records[m.key(kind, id)] = cp
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

package persistence

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded snapshots in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	saved map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{saved: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	raw, err := snap.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.saved[snap.LedgerID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, ledgerID string) (*Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.saved[ledgerID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNoSnapshot
	}
	return Decode(raw)
}

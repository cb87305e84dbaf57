package pushreceiver

import (
	"context"
	"sync"
)

// Store persists registration state across process restarts.
//
// SaveRegistration must write credentials and sender ID together: a reader
// never observes one updated without the other.
type Store interface {
	Load(ctx context.Context) (State, error)
	SaveRegistration(ctx context.Context, creds *Credentials, senderID string) error
	SavePersistentIDs(ctx context.Context, ids []string) error
}

// MemoryStore is a Store that lives for the duration of the process.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

// SaveRegistration implements Store.
func (m *MemoryStore) SaveRegistration(_ context.Context, creds *Credentials, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Credentials = creds.Clone()
	m.state.SenderID = senderID
	return nil
}

// SavePersistentIDs implements Store.
func (m *MemoryStore) SavePersistentIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.PersistentIDs = make([]string, len(ids))
	copy(m.state.PersistentIDs, ids)
	return nil
}

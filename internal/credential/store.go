package credential

import (
	"context"
	"sync"
)

// Store persists the current credential. Implementations must survive
// process restart (except MemoryStore, which exists for tests) and never
// perform network calls.
//
// Get returns (nil, nil) when no credential is stored; callers treat
// that as "unauthenticated", not as an error.
type Store interface {
	Get(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store used by tests and ephemeral setups.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get(context.Context) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, nil
	}
	cp := *m.cred
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred == nil {
		m.cred = nil
		return nil
	}
	cp := *cred
	m.cred = &cp
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}

package contentstore

import (
	"context"
	"sync"

	"github.com/torusai/agentdata/pkg/models"
)

// MemoryStore is an in-process content-addressed store. Blobs are kept by CID
// and keys point at the CID of their latest content.
type MemoryStore struct {
	mu    sync.RWMutex
	keys  map[string]string
	blobs map[string][]byte
}

var _ Writer = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  make(map[string]string),
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, p *models.Projection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, data, err := Encode(p)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[c] = data
	m.keys[key] = c
	return c, nil
}

// Resolve returns the CID stored under key.
func (m *MemoryStore) Resolve(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.keys[key]
	return c, ok
}

// Get returns the projection stored under key.
func (m *MemoryStore) Get(key string) (*models.Projection, bool) {
	m.mu.RLock()
	c, ok := m.keys[key]
	data := m.blobs[c]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	p, err := Decode(data)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Len returns the number of keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Close is a no-op; the contents stay available after the pool lets go of it.
func (m *MemoryStore) Close() error {
	return nil
}

// Dialer returns a Dialer that always hands out m.
func (m *MemoryStore) Dialer() Dialer {
	return func(context.Context) (Writer, error) {
		return m, nil
	}
}

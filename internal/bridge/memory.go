// internal/bridge/memory.go
//
// In-memory Slots.
// Characteristics:
//   - Payloads keyed by slot key in a map.
//   - Concurrency-safe via Mutex (Take reads and deletes under one lock).
//   - State is lost when the process restarts.

package bridge

import (
	"context"
	"sync"
)

// memory is a map-based Slots implementation.
type memory struct {
	mu    sync.Mutex
	slots map[string][]byte
}

// NewMemory constructs in-memory Slots.
func NewMemory() Slots {
	return &memory{slots: make(map[string][]byte)}
}

func (m *memory) Put(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = append([]byte(nil), payload...)
	return nil
}

func (m *memory) Take(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.slots[key]
	if ok {
		delete(m.slots, key)
	}
	return p, ok, nil
}

func (m *memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}

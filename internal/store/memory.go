// internal/store/memory.go
//
// In-memory registry of running game instances.
// Running instances hold live goroutines and timers, so they are never
// persisted; a restart drops them (the hand-off bridge is the only thing that
// survives).
//
// Characteristics:
//   - Entries keyed by instance id in a map.
//   - Concurrency-safe via Mutex (Get writes LastSeen).
//   - Idle entries are evicted by Evict. Deleted and evicted instances are
//     closed without waiting; CloseAll also waits for their background work.

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robalobadob/skillgames/internal/session"
)

// ErrNotFound is returned for unknown instance ids.
var ErrNotFound = errors.New("store: instance not found")

// Entry is a running instance and the learner it belongs to.
type Entry struct {
	Instance session.Instance
	OwnerID  string
	LastSeen time.Time
}

// Store defines the registry interface.
type Store interface {
	// Save adds or replaces an entry.
	Save(ctx context.Context, e Entry) error
	// Get looks up an entry by instance id and marks it as seen.
	Get(ctx context.Context, id string) (Entry, error)
	// Delete removes and closes an entry.
	Delete(ctx context.Context, id string) error
	// Evict closes entries not seen since cutoff and reports how many.
	Evict(ctx context.Context, cutoff time.Time) int
	// CloseAll closes every entry, waiting for background work.
	CloseAll()
}

type memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{entries: make(map[string]*Entry), now: time.Now}
}

func (m *memory) Save(ctx context.Context, e Entry) error {
	if e.Instance == nil {
		return errors.New("store: nil instance")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.LastSeen.IsZero() {
		e.LastSeen = m.now()
	}
	if old, ok := m.entries[e.Instance.ID()]; ok && old.Instance != e.Instance {
		old.Instance.Close()
	}
	m.entries[e.Instance.ID()] = &e
	return nil
}

func (m *memory) Get(ctx context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.LastSeen = m.now()
	return *e, nil
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.Instance.Close()
	return nil
}

func (m *memory) Evict(ctx context.Context, cutoff time.Time) int {
	m.mu.Lock()
	var stale []session.Instance
	for id, e := range m.entries {
		if e.LastSeen.Before(cutoff) {
			stale = append(stale, e.Instance)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()
	for _, inst := range stale {
		inst.Close()
	}
	return len(stale)
}

func (m *memory) CloseAll() {
	m.mu.Lock()
	all := make([]session.Instance, 0, len(m.entries))
	for id, e := range m.entries {
		all = append(all, e.Instance)
		delete(m.entries, id)
	}
	m.mu.Unlock()
	for _, inst := range all {
		inst.Close()
	}
	for _, inst := range all {
		inst.Wait()
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/skillgames/internal/session"
)

// fakeInstance records Close/Wait calls.
type fakeInstance struct {
	session.Instance
	id     string
	closed int
	waited int
}

func (f *fakeInstance) ID() string { return f.id }
func (f *fakeInstance) Close()     { f.closed++ }
func (f *fakeInstance) Wait()      { f.waited++ }

func TestSaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	inst := &fakeInstance{id: "a"}
	require.NoError(t, s.Save(ctx, Entry{Instance: inst, OwnerID: "learner"}))

	e, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "learner", e.OwnerID)
	assert.Same(t, inst, e.Instance)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.Equal(t, 1, inst.closed)
	assert.Zero(t, inst.waited)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)
	assert.Error(t, s.Save(ctx, Entry{}))
}

func TestSaveReplacingClosesOld(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := &fakeInstance{id: "a"}
	require.NoError(t, s.Save(ctx, Entry{Instance: old}))
	require.NoError(t, s.Save(ctx, Entry{Instance: &fakeInstance{id: "a"}}))
	assert.Equal(t, 1, old.closed)
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	m := &memory{entries: make(map[string]*Entry), now: func() time.Time { return now }}

	idle := &fakeInstance{id: "idle"}
	busy := &fakeInstance{id: "busy"}
	require.NoError(t, m.Save(ctx, Entry{Instance: idle, LastSeen: now.Add(-time.Hour)}))
	require.NoError(t, m.Save(ctx, Entry{Instance: busy}))

	assert.Equal(t, 1, m.Evict(ctx, now.Add(-30*time.Minute)))
	assert.Equal(t, 1, idle.closed)
	_, err := m.Get(ctx, "busy")
	assert.NoError(t, err)

	m.CloseAll()
	assert.Equal(t, 1, busy.closed)
	assert.Equal(t, 1, busy.waited)
	_, err = m.Get(ctx, "busy")
	assert.ErrorIs(t, err, ErrNotFound)
}

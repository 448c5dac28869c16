// internal/bridge/bridge.go
//
// Read-once hand-off of a Session across a navigation boundary
// ("go read the recommended section, then come back").
//
// The bridge stores a serialized copy, never a live reference. Restore reads
// the slot and clears it in the same step, so a saved session is restored at
// most once. A slot that does not decode is discarded and treated as empty.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/session"
)

// ErrCorrupt marks a slot whose payload is not a valid session.
var ErrCorrupt = errors.New("bridge: corrupt slot")

// Slots is a key-value store with read-and-delete.
type Slots interface {
	Put(ctx context.Context, key string, payload []byte) error
	// Take returns the payload and removes it atomically.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Key is the slot key for one game and one learner.
func Key(gameID, ownerID string) string {
	return "skillgames:" + gameID + ":" + ownerID
}

// Move re-keys a pending hand-off of gameID from one learner id to another,
// as when a guest logs in. The target slot is replaced. It reports whether
// anything was moved.
func Move(ctx context.Context, slots Slots, gameID, from, to string) (bool, error) {
	if from == to {
		return false, nil
	}
	payload, ok, err := slots.Take(ctx, Key(gameID, from))
	if err != nil || !ok {
		return false, err
	}
	if err := slots.Put(ctx, Key(gameID, to), payload); err != nil {
		return false, err
	}
	return true, nil
}

// Bridge hands off sessions of one game for one learner.
type Bridge[A any] struct {
	slots Slots
	key   string
	log   zerolog.Logger
}

// New returns a bridge for gameID/ownerID.
func New[A any](slots Slots, gameID, ownerID string) *Bridge[A] {
	return &Bridge[A]{
		slots: slots,
		key:   Key(gameID, ownerID),
		log:   log.With().Str("slot", Key(gameID, ownerID)).Logger(),
	}
}

// Key returns the slot key.
func (b *Bridge[A]) Key() string { return b.key }

// Save serializes s into the slot, replacing any previous value.
func (b *Bridge[A]) Save(ctx context.Context, s session.Session[A]) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("bridge: encode: %w", err)
	}
	return b.slots.Put(ctx, b.key, payload)
}

// Restore takes the saved session. It returns nil when the slot is empty or
// corrupt; the slot is empty afterwards either way.
func (b *Bridge[A]) Restore(ctx context.Context) (*session.Session[A], error) {
	payload, ok, err := b.slots.Take(ctx, b.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	s, err := Decode[A](payload)
	if err != nil {
		b.log.Warn().Err(err).Msg("discarding handoff slot")
		return nil, nil
	}
	return s, nil
}

// Clear empties the slot.
func (b *Bridge[A]) Clear(ctx context.Context) error {
	return b.slots.Delete(ctx, b.key)
}

// Decode parses a stored session.
func Decode[A any](payload []byte) (*session.Session[A], error) {
	var s session.Session[A]
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !s.Phase.Valid() {
		return nil, fmt.Errorf("%w: phase %q", ErrCorrupt, s.Phase)
	}
	if s.Score < 0 || s.Score > s.MaxScore {
		return nil, fmt.Errorf("%w: score %d out of [0,%d]", ErrCorrupt, s.Score, s.MaxScore)
	}
	return &s, nil
}

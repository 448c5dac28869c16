package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned for command types players may not send.
	ErrUnknownCommand = errors.New("session: unknown command")
	// ErrBadPayload is returned when an answer does not decode.
	ErrBadPayload = errors.New("session: bad payload")
)

// Command is a player action as it arrives over the wire. Answer and Answers
// hold the game-specific answer type.
type Command struct {
	Type    Kind            `json:"type"`
	Answer  json.RawMessage `json:"answer,omitempty"`
	Answers json.RawMessage `json:"answers,omitempty"`
}

// View is the JSON snapshot handed to the presentation layer.
type View struct {
	InstanceID string `json:"instanceId"`
	GameID     string `json:"gameId"`
	Session    any    `json:"session"`
}

// Instance is a running game with its answer type erased, so the HTTP layer
// can hold instances of different games side by side.
type Instance interface {
	ID() string
	GameID() string
	Mount(ctx context.Context) bool
	Do(cmd Command) (View, error)
	View() View
	Handoff(ctx context.Context) error
	Close()
	Wait()
}

var _ Instance = (*Runner[struct{}])(nil)

var playerKinds = map[Kind]bool{
	ShowInstructions: true,
	Start:            true,
	Answer:           true,
	Submit:           true,
	ViewFeedback:     true,
	Back:             true,
	Reset:            true,
	ToggleAudio:      true,
}

// Do decodes cmd and dispatches it.
func (r *Runner[A]) Do(cmd Command) (View, error) {
	if !playerKinds[cmd.Type] {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	a := Action[A]{Kind: cmd.Type}
	switch cmd.Type {
	case Answer:
		if len(cmd.Answer) == 0 {
			return View{}, fmt.Errorf("%w: answer is required", ErrBadPayload)
		}
		if err := json.Unmarshal(cmd.Answer, &a.Answer); err != nil {
			return View{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	case Submit:
		if len(cmd.Answers) > 0 && string(cmd.Answers) != "null" {
			answers := []A{}
			if err := json.Unmarshal(cmd.Answers, &answers); err != nil {
				return View{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
			}
			a.Answers = answers
		}
	}
	s := r.Dispatch(a)
	return r.view(s), nil
}

// View returns the current snapshot.
func (r *Runner[A]) View() View { return r.view(r.Session()) }

func (r *Runner[A]) view(s Session[A]) View {
	return View{InstanceID: r.id, GameID: r.def.ID, Session: s}
}

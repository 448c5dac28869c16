// internal/session/session.go
//
// Generic lifecycle of one play-through:
//
//   intro → instructions → playing → finished ⇄ review
//                             ↑          │
//                             └─ reset ──┘
//
// Session holds the state; Machine.Apply is the only way to change it. Apply
// is pure: it returns the next Session plus the side effects the caller
// (Runner) must carry out. Actions that are not valid in the current phase
// return the session unchanged with changed=false; they are never errors.
//
// Sub-steps inside "playing" (one answer at a time, drag-and-drop placements,
// remote scoring, countdown) are fields on Session, not extra phases.

package session

import (
	"slices"
	"time"

	"github.com/robalobadob/skillgames/internal/insight"
	"github.com/robalobadob/skillgames/internal/scoring"
)

// Phase is a named stage of the lifecycle.
type Phase string

const (
	PhaseIntro        Phase = "intro"
	PhaseInstructions Phase = "instructions"
	PhasePlaying      Phase = "playing"
	PhaseFinished     Phase = "finished"
	PhaseReview       Phase = "review"
)

// Valid reports whether p is one of the five phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIntro, PhaseInstructions, PhasePlaying, PhaseFinished, PhaseReview:
		return true
	}
	return false
}

// Terminal reports whether p is finished or review.
func (p Phase) Terminal() bool { return p == PhaseFinished || p == PhaseReview }

// Session is one play-through.
type Session[A any] struct {
	Phase     Phase            `json:"phase"`
	Answers   []A              `json:"answers"`
	Score     int              `json:"score"`
	MaxScore  int              `json:"maxScore"`
	Insight   *insight.Insight `json:"insight,omitempty"`
	StartedAt time.Time        `json:"startedAt"`

	Step      int  `json:"step"`
	Scoring   bool `json:"scoring,omitempty"`
	Remaining int  `json:"remaining,omitempty"`
	TimedOut  bool `json:"timedOut,omitempty"`

	BackgroundAudio bool `json:"backgroundAudio"`
}

// New returns the default session for a game with the given maximum.
func New[A any](maxScore int) Session[A] {
	return Session[A]{Phase: PhaseIntro, Answers: []A{}, MaxScore: maxScore}
}

// Clone returns a deep copy.
func (s Session[A]) Clone() Session[A] {
	out := s
	out.Answers = slices.Clone(s.Answers)
	if out.Answers == nil {
		out.Answers = []A{}
	}
	if s.Insight != nil {
		ins := *s.Insight
		out.Insight = &ins
	}
	return out
}

// Kind names an action.
type Kind string

// Player actions.
const (
	ShowInstructions Kind = "show_instructions"
	Start            Kind = "start"
	Answer           Kind = "answer"
	Submit           Kind = "submit"
	ViewFeedback     Kind = "view_feedback"
	Back             Kind = "back"
	Reset            Kind = "reset"
	ToggleAudio      Kind = "toggle_audio"
)

// Internal actions, dispatched by the runner itself.
const (
	Scored       Kind = "scored"
	Tick         Kind = "tick"
	Timeout      Kind = "timeout"
	Restore      Kind = "restore"
	InsightReady Kind = "insight_ready"
)

// Action is one requested transition.
type Action[A any] struct {
	Kind     Kind
	Answer   A                // Answer
	Answers  []A              // Submit; nil means "the answers recorded so far"
	Points   int              // Scored
	Restored *Session[A]      // Restore
	Insight  *insight.Insight // InsightReady
}

// Effect is a bit set of side effects requested by a transition.
type Effect uint8

const (
	EffectNewRound Effect = 1 << iota
	EffectStopCountdown
	EffectStartCountdown
	EffectEvaluate
	EffectResolveInsight
	EffectReport
)

// Has reports whether f is set.
func (e Effect) Has(f Effect) bool { return e&f != 0 }

// Machine applies actions for one game.
type Machine[A any] struct {
	Rule scoring.Rule[A]
	// Async is set for games scored remotely: submit enters the scoring
	// sub-state and waits for a Scored action.
	Async bool
	// Countdown in seconds for timed games; zero means untimed.
	Countdown int
	Now       func() time.Time
}

// Apply returns the next session, the effects to run and whether anything
// changed. s is never modified.
func (m Machine[A]) Apply(s Session[A], a Action[A]) (Session[A], Effect, bool) {
	switch a.Kind {
	case ShowInstructions:
		if s.Phase != PhaseIntro {
			return s, 0, false
		}
		n := s.Clone()
		n.Phase = PhaseInstructions
		return n, 0, true

	case Start:
		if s.Phase != PhaseInstructions {
			return s, 0, false
		}
		return m.begin(s)

	case Reset:
		if s.Phase != PhaseFinished {
			return s, 0, false
		}
		return m.begin(s)

	case Answer:
		if s.Phase != PhasePlaying || s.Scoring {
			return s, 0, false
		}
		n := s.Clone()
		n.Answers = record(n.Answers, a.Answer)
		n.Step++
		return n, 0, true

	case Submit:
		if s.Phase != PhasePlaying || s.Scoring {
			return s, 0, false
		}
		n := s.Clone()
		if a.Answers != nil {
			n.Answers = slices.Clone(a.Answers)
		}
		if m.Async {
			n.Scoring = true
			return n, EffectStopCountdown | EffectEvaluate, true
		}
		return m.finish(n, scoring.Apply(m.Rule, n.Answers).Points, false)

	case Scored:
		if s.Phase != PhasePlaying || !s.Scoring {
			return s, 0, false
		}
		return m.finish(s.Clone(), a.Points, false)

	case Tick:
		if s.Phase != PhasePlaying || s.Scoring || s.Remaining <= 0 {
			return s, 0, false
		}
		n := s.Clone()
		n.Remaining--
		if n.Remaining == 0 {
			return m.finish(n, scoring.Apply(m.Rule, n.Answers).Points, true)
		}
		return n, 0, true

	case Timeout:
		if s.Phase != PhasePlaying || s.Scoring {
			return s, 0, false
		}
		n := s.Clone()
		n.Remaining = 0
		return m.finish(n, scoring.Apply(m.Rule, n.Answers).Points, true)

	case ViewFeedback:
		if s.Phase != PhaseFinished {
			return s, 0, false
		}
		n := s.Clone()
		n.Phase = PhaseReview
		return n, 0, true

	case Back:
		if s.Phase != PhaseReview {
			return s, 0, false
		}
		n := s.Clone()
		n.Phase = PhaseFinished
		var eff Effect
		if n.Insight == nil {
			eff = EffectResolveInsight
		}
		return n, eff, true

	case InsightReady:
		if !s.Phase.Terminal() || s.Insight != nil || a.Insight == nil {
			return s, 0, false
		}
		n := s.Clone()
		ins := *a.Insight
		n.Insight = &ins
		return n, 0, true

	case ToggleAudio:
		n := s.Clone()
		n.BackgroundAudio = !n.BackgroundAudio
		return n, 0, true

	case Restore:
		if a.Restored == nil || !a.Restored.Phase.Valid() {
			return s, 0, false
		}
		n := a.Restored.Clone()
		n.MaxScore = m.Rule.MaxScore()
		n.Score = scoring.Clamp(n.Score, n.MaxScore)
		eff := EffectNewRound | EffectStopCountdown
		switch {
		case n.Phase == PhasePlaying && n.Scoring:
			eff |= EffectEvaluate
		case n.Phase == PhasePlaying && n.Remaining > 0:
			eff |= EffectStartCountdown
		case n.Phase.Terminal() && n.Insight == nil:
			eff |= EffectResolveInsight
		}
		return n, eff, true
	}
	return s, 0, false
}

// begin starts a fresh round; audio preference carries over.
func (m Machine[A]) begin(s Session[A]) (Session[A], Effect, bool) {
	n := New[A](m.Rule.MaxScore())
	n.Phase = PhasePlaying
	n.StartedAt = m.now()
	n.BackgroundAudio = s.BackgroundAudio
	eff := EffectNewRound | EffectStopCountdown
	if m.Countdown > 0 {
		n.Remaining = m.Countdown
		eff |= EffectStartCountdown
	}
	return n, eff, true
}

func (m Machine[A]) finish(n Session[A], points int, timedOut bool) (Session[A], Effect, bool) {
	n.Phase = PhaseFinished
	n.Scoring = false
	n.TimedOut = timedOut
	n.Score = scoring.Clamp(points, n.MaxScore)
	n.Insight = nil
	return n, EffectStopCountdown | EffectResolveInsight | EffectReport, true
}

func (m Machine[A]) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// record appends a, replacing an earlier answer with the same key.
func record[A any](answers []A, a A) []A {
	if k, ok := any(a).(scoring.Keyed); ok {
		for i, prev := range answers {
			if pk, ok := any(prev).(scoring.Keyed); ok && pk.Key() == k.Key() {
				answers[i] = a
				return answers
			}
		}
	}
	return append(answers, a)
}

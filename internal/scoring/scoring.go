// internal/scoring/scoring.go
//
// Scoring rules turn a player's answers into points.
//
// Every game declares a deterministic Rule. Games that need qualitative
// judgement (free text) also declare a remote Judge; the Rule then doubles
// as the Judge's fallback. That pairing is the Judged type, so a game can
// never end up with a remote scorer and no way to finish.

package scoring

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Rule is a pure, deterministic scoring function with a fixed maximum.
type Rule[A any] interface {
	MaxScore() int
	Score(answers []A) int
}

// Judge scores answers remotely. It may fail; callers fall back.
type Judge[A any] interface {
	Judge(ctx context.Context, answers []A) (int, error)
}

// Keyed answers replace earlier answers with the same key when recorded.
type Keyed interface {
	Key() string
}

// Source tells where a score came from.
type Source string

const (
	SourceRule     Source = "rule"
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Result is a clamped score plus its provenance.
type Result struct {
	Points int    `json:"points"`
	Source Source `json:"source"`
}

// Clamp bounds points to [0, max].
func Clamp(points, max int) int {
	if max < 0 {
		max = 0
	}
	switch {
	case points < 0:
		return 0
	case points > max:
		return max
	default:
		return points
	}
}

// Apply runs a rule and clamps its result.
func Apply[A any](r Rule[A], answers []A) Result {
	return Result{Points: Clamp(r.Score(answers), r.MaxScore()), Source: SourceRule}
}

// Judged pairs a remote judge with its declared deterministic fallback.
type Judged[A any] struct {
	Remote   Judge[A]
	Fallback Rule[A]
	Logger   *zerolog.Logger
}

// MaxScore is the fallback rule's maximum; the remote judge scores against
// the same scale.
func (j Judged[A]) MaxScore() int { return j.Fallback.MaxScore() }

// Score is the deterministic path, so Judged is itself a Rule.
func (j Judged[A]) Score(answers []A) int { return j.Fallback.Score(answers) }

// Evaluate asks the remote judge and falls back to the rule on any error.
// With no remote judge configured the rule is used directly.
func (j Judged[A]) Evaluate(ctx context.Context, answers []A) Result {
	if j.Remote == nil {
		return Result{Points: Clamp(j.Fallback.Score(answers), j.MaxScore()), Source: SourceFallback}
	}
	pts, err := j.Remote.Judge(ctx, answers)
	if err != nil {
		j.logger().Warn().Err(err).Msg("remote judge failed; using fallback rule")
		return Result{Points: Clamp(j.Fallback.Score(answers), j.MaxScore()), Source: SourceFallback}
	}
	return Result{Points: Clamp(pts, j.MaxScore()), Source: SourceRemote}
}

func (j Judged[A]) logger() *zerolog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return &log.Logger
}

// latest keeps the last answer per key, in first-seen order.
func latest[A any](answers []A, key func(A) string) []A {
	idx := make(map[string]int, len(answers))
	out := make([]A, 0, len(answers))
	for _, a := range answers {
		k := key(a)
		if i, ok := idx[k]; ok {
			out[i] = a
			continue
		}
		idx[k] = len(out)
		out = append(out, a)
	}
	return out
}

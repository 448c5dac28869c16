// internal/insight/insight.go
//
// Post-game feedback: one short message plus an optional pointer to a
// catalog section worth reading next.
//
// Resolution order:
//   - Perfect score: canned celebration, no recommendation, no remote call.
//   - Remote: ask the model which section fits the player's mistakes.
//     The reply must be a single JSON object with exactly the keys
//     "detectedTopicId" and "insight"; the id must be a known section.
//   - Anything else: static encouragement + the subject's first section.
//
// The player always gets a non-empty message.

package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/jsonx"
	"github.com/robalobadob/skillgames/internal/llm"
)

const (
	PerfectMessage  = "Perfect score! You nailed every single one. Ready for the next challenge?"
	FallbackMessage = "Nice effort! Every mistake is a chance to learn. Have a look at the suggested reading and try again."

	excerptRunes = 160
)

// Sources of an insight.
const (
	SourcePerfect  = "perfect"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// ErrContract is returned when the model's reply is not the agreed JSON object.
var ErrContract = errors.New("insight: reply breaks contract")

// Insight is the feedback shown on the results screen.
type Insight struct {
	Message              string `json:"message"`
	RecommendedSectionID string `json:"recommendedSectionId,omitempty"`
	Source               string `json:"source"`
}

// Mistake describes one wrong answer for the prompt.
type Mistake struct {
	Question string `json:"question"`
	Given    string `json:"given"`
	Expected string `json:"expected,omitempty"`
	TopicID  string `json:"topicId,omitempty"`
}

// Request is everything the resolver needs about a finished round.
type Request struct {
	Score    int
	MaxScore int
	Mistakes []Mistake
	Sections []content.Section
}

// Resolver produces insights. A nil Gen means every non-perfect round gets
// the fallback.
type Resolver struct {
	Gen    llm.Generator
	Logger *zerolog.Logger
}

// Immediate returns the insight when it can be decided without a remote
// call (perfect score).
func (r *Resolver) Immediate(req Request) (Insight, bool) {
	if req.MaxScore > 0 && req.Score >= req.MaxScore {
		return Insight{Message: PerfectMessage, Source: SourcePerfect}, true
	}
	return Insight{}, false
}

// Resolve always returns a usable insight.
func (r *Resolver) Resolve(ctx context.Context, req Request) Insight {
	if ins, ok := r.Immediate(req); ok {
		return ins
	}
	if r.Gen == nil || len(req.Sections) == 0 {
		return Fallback(req.Sections)
	}
	ins, err := r.remote(ctx, req)
	if err != nil {
		r.logger().Warn().Err(err).Int("score", req.Score).Int("max", req.MaxScore).Msg("insight fallback")
		return Fallback(req.Sections)
	}
	return ins
}

// Fallback is the static insight, pointing at the first section if any.
func Fallback(sections []content.Section) Insight {
	ins := Insight{Message: FallbackMessage, Source: SourceFallback}
	if len(sections) > 0 {
		ins.RecommendedSectionID = sections[0].TopicID
	}
	return ins
}

func (r *Resolver) remote(ctx context.Context, req Request) (Insight, error) {
	text, err := r.Gen.Generate(ctx, Prompt(req))
	if err != nil {
		return Insight{}, err
	}
	return Parse(text, req.Sections)
}

// Parse validates a model reply against the contract.
func Parse(text string, sections []content.Section) (Insight, error) {
	raw, err := jsonx.Extract(text)
	if err != nil {
		return Insight{}, fmt.Errorf("%w: %v", ErrContract, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Insight{}, fmt.Errorf("%w: %v", ErrContract, err)
	}
	if len(fields) != 2 {
		return Insight{}, fmt.Errorf("%w: want exactly 2 keys, got %d", ErrContract, len(fields))
	}
	var topic, message string
	if err := stringField(fields, "detectedTopicId", &topic); err != nil {
		return Insight{}, err
	}
	if err := stringField(fields, "insight", &message); err != nil {
		return Insight{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Insight{}, fmt.Errorf("%w: empty insight", ErrContract)
	}
	for _, s := range sections {
		if s.TopicID == topic {
			return Insight{Message: message, RecommendedSectionID: topic, Source: SourceRemote}, nil
		}
	}
	return Insight{}, fmt.Errorf("%w: unknown topic %q", ErrContract, topic)
}

func stringField(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrContract, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %q is not a string", ErrContract, key)
	}
	return nil
}

// Prompt lists only the wrong answers and the recommendable sections.
func Prompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a friendly tutor for school students. A student just finished a practice game.\n")
	fmt.Fprintf(&b, "They scored %d out of %d. These are the answers they got wrong or skipped:\n", req.Score, req.MaxScore)
	if len(req.Mistakes) == 0 {
		b.WriteString("- (no specific wrong answers recorded)\n")
	}
	for _, m := range req.Mistakes {
		fmt.Fprintf(&b, "- %s | student answered: %s", m.Question, m.Given)
		if m.Expected != "" {
			fmt.Fprintf(&b, " | correct: %s", m.Expected)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRecommendable sections (id | title | excerpt):\n")
	for _, s := range req.Sections {
		fmt.Fprintf(&b, "- %s | %s | %s\n", s.TopicID, s.Title, s.Excerpt(excerptRunes))
	}
	b.WriteString(`
Pick the one section that best addresses the mistakes and write one or two encouraging sentences explaining what to review.
Respond with a single JSON object with exactly two keys and nothing else:
{"detectedTopicId":"<section id from the list>","insight":"<your message>"}`)
	return b.String()
}

func (r *Resolver) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return &log.Logger
}

// internal/games/games.go
//
// Concrete mini-games built on the generic session runner.
// Each content kind maps to one answer type and one scoring rule:
//   - choice   → scoring.ChoiceAnswer, scoring.Choice (team-captain adds a countdown)
//   - sort     → scoring.Placement,    scoring.Sort
//   - freetext → scoring.Reply,        scoring.Judged (remote judge, Rubric fallback)
//
// New erases the answer type so callers hold every game as a session.Instance.

package games

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/bridge"
	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/insight"
	"github.com/robalobadob/skillgames/internal/llm"
	"github.com/robalobadob/skillgames/internal/scoring"
	"github.com/robalobadob/skillgames/internal/session"
	"github.com/robalobadob/skillgames/internal/timer"
)

// ErrUnknownGame is returned for ids missing from the library.
var ErrUnknownGame = errors.New("games: unknown game")

// Deps are the services shared by every instance.
type Deps struct {
	Library *content.Library
	// Gen is the text-generation model; nil means fallbacks only.
	Gen llm.Generator
	// Slots backs the hand-off bridge; nil disables hand-off.
	Slots     bridge.Slots
	Scheduler timer.Scheduler
	Logger    *zerolog.Logger
}

// Player identifies who is playing and where finished rounds go.
type Player struct {
	OwnerID  string
	Reporter session.Reporter
}

// New builds a fresh instance of gameID in the intro phase. Call Mount on
// the result to pick up a pending hand-off.
func New(gameID, instanceID string, p Player, deps Deps) (session.Instance, error) {
	if deps.Library == nil {
		return nil, errors.New("games: no content library")
	}
	g, ok := deps.Library.Game(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameID)
	}
	sections := deps.Library.Sections(g.Subject)

	switch g.Kind {
	case content.KindChoice:
		return build(instanceID, g, p, deps, choiceDefinition(g, sections)), nil
	case content.KindSort:
		return build(instanceID, g, p, deps, sortDefinition(g, sections)), nil
	case content.KindFreeText:
		def, err := replyDefinition(g, sections, deps)
		if err != nil {
			return nil, err
		}
		return build(instanceID, g, p, deps, def), nil
	}
	return nil, fmt.Errorf("games: %q has unsupported kind %q", g.ID, g.Kind)
}

func build[A any](instanceID string, g content.Game, p Player, deps Deps, def session.Definition[A]) *session.Runner[A] {
	l := deps.logger().With().Str("subject", g.Subject).Logger()
	opts := []session.Option[A]{
		session.WithLogger[A](l),
		session.WithResolver[A](&insight.Resolver{Gen: deps.Gen, Logger: &l}),
	}
	if deps.Scheduler != nil {
		opts = append(opts, session.WithScheduler[A](deps.Scheduler))
	}
	if deps.Slots != nil && p.OwnerID != "" {
		opts = append(opts, session.WithHandoff[A](bridge.New[A](deps.Slots, g.ID, p.OwnerID)))
	}
	if p.Reporter != nil {
		opts = append(opts, session.WithReporter[A](p.Reporter))
	}
	return session.NewRunner(instanceID, def, opts...)
}

func choiceDefinition(g content.Game, sections []content.Section) session.Definition[scoring.ChoiceAnswer] {
	rule := scoring.NewChoice(g.Questions)
	return session.Definition[scoring.ChoiceAnswer]{
		ID:        g.ID,
		Rule:      rule,
		Countdown: g.CountdownSeconds,
		Sections:  sections,
		Mistakes: func(answers []scoring.ChoiceAnswer) []insight.Mistake {
			var out []insight.Mistake
			for _, w := range rule.Wrong(answers) {
				out = append(out, insight.Mistake{
					Question: w.Question.Prompt,
					Given:    w.GivenText(),
					Expected: w.Question.Options[w.Question.Correct],
					TopicID:  w.Question.Topic,
				})
			}
			return out
		},
	}
}

func sortDefinition(g content.Game, sections []content.Section) session.Definition[scoring.Placement] {
	rule := scoring.NewSort(g.Items)
	bins := make(map[string]content.Bin, len(g.Bins))
	for _, b := range g.Bins {
		bins[b.ID] = b
	}
	label := func(id string) string {
		if id == "" {
			return scoring.NoAnswer
		}
		if b, ok := bins[id]; ok {
			return b.Label
		}
		return id
	}
	return session.Definition[scoring.Placement]{
		ID:        g.ID,
		Rule:      rule,
		Countdown: g.CountdownSeconds,
		Sections:  sections,
		Mistakes: func(answers []scoring.Placement) []insight.Mistake {
			var out []insight.Mistake
			for _, m := range rule.Misplaced(answers) {
				out = append(out, insight.Mistake{
					Question: m.Item.Label,
					Given:    label(m.Given),
					Expected: label(m.Item.Bin),
					TopicID:  bins[m.Item.Bin].Topic,
				})
			}
			return out
		},
	}
}

func replyDefinition(g content.Game, sections []content.Section, deps Deps) (session.Definition[scoring.Reply], error) {
	rubric, err := scoring.NewRubric(g.Prompts)
	if err != nil {
		return session.Definition[scoring.Reply]{}, err
	}
	judged := scoring.Judged[scoring.Reply]{Fallback: rubric, Logger: deps.Logger}
	if deps.Gen != nil {
		judged.Remote = scoring.ReplyJudge{Gen: deps.Gen, Prompts: g.Prompts}
	}
	return session.Definition[scoring.Reply]{
		ID:        g.ID,
		Rule:      judged,
		Evaluator: judged,
		Countdown: g.CountdownSeconds,
		Sections:  sections,
		Mistakes: func(answers []scoring.Reply) []insight.Mistake {
			var out []insight.Mistake
			for _, hit := range rubric.Missed(answers) {
				out = append(out, insight.Mistake{
					Question: hit.Prompt.Scenario,
					Given:    hit.Reply,
					Expected: hit.Criterion.Description,
					TopicID:  hit.Criterion.Topic,
				})
			}
			return out
		},
	}, nil
}

func (d Deps) logger() *zerolog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return &log.Logger
}

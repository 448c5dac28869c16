package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/jsonx"
	"github.com/robalobadob/skillgames/internal/llm"
)

// ErrJudgeContract is returned when the judge's reply does not follow the
// {"scores":[{"criterion":..,"points":..}]} contract.
var ErrJudgeContract = errors.New("scoring: judge reply breaks contract")

// ReplyJudge scores free-text replies with a text-generation model.
type ReplyJudge struct {
	Gen     llm.Generator
	Prompts []content.Prompt
}

type judgeReply struct {
	Scores *[]struct {
		Criterion string `json:"criterion"`
		Points    *int   `json:"points"`
	} `json:"scores"`
}

// Judge implements Judge[Reply]. Each criterion's points are clamped to its
// maximum; criteria the model leaves out score zero.
func (j ReplyJudge) Judge(ctx context.Context, answers []Reply) (int, error) {
	if j.Gen == nil {
		return 0, errors.New("scoring: no generator configured")
	}
	limits, err := criterionLimits(j.Prompts)
	if err != nil {
		return 0, err
	}
	text, err := j.Gen.Generate(ctx, j.prompt(answers))
	if err != nil {
		return 0, err
	}
	raw, err := jsonx.Extract(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrJudgeContract, err)
	}
	var out judgeReply
	if err := json.Unmarshal(raw, &out); err != nil || out.Scores == nil {
		return 0, fmt.Errorf("%w: missing scores", ErrJudgeContract)
	}

	seen := make(map[string]bool)
	total := 0
	for _, s := range *out.Scores {
		max, ok := limits[s.Criterion]
		if !ok {
			return 0, fmt.Errorf("%w: unknown criterion %q", ErrJudgeContract, s.Criterion)
		}
		if s.Points == nil {
			return 0, fmt.Errorf("%w: criterion %q has no points", ErrJudgeContract, s.Criterion)
		}
		if seen[s.Criterion] {
			continue
		}
		seen[s.Criterion] = true
		total += Clamp(*s.Points, max)
	}
	return total, nil
}

// criterionLimits maps criterion id to its maximum. The reply names criteria
// only, so an id repeated across prompts cannot be scored.
func criterionLimits(prompts []content.Prompt) (map[string]int, error) {
	limits := make(map[string]int)
	for _, p := range prompts {
		for _, c := range p.Criteria {
			if _, dup := limits[c.ID]; dup {
				return nil, fmt.Errorf("scoring: duplicate criterion %q", c.ID)
			}
			limits[c.ID] = c.Points
		}
	}
	return limits, nil
}

func (j ReplyJudge) prompt(answers []Reply) string {
	text := make(map[string]string)
	for _, a := range latest(answers, Reply.Key) {
		text[a.PromptID] = a.Text
	}
	var b strings.Builder
	b.WriteString("You grade short written replies from school students practising communication skills.\n")
	b.WriteString("Score each criterion from 0 up to its maximum points. Be fair and encouraging, but only award points the reply earns.\n\n")
	for _, p := range j.Prompts {
		fmt.Fprintf(&b, "Scenario %s: %s\n", p.ID, p.Scenario)
		fmt.Fprintf(&b, "Student reply: %q\n", strings.TrimSpace(text[p.ID]))
		for _, c := range p.Criteria {
			fmt.Fprintf(&b, "- criterion %s (max %d): %s\n", c.ID, c.Points, c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Respond with a single JSON object and nothing else, in this shape:
{"scores":[{"criterion":"<criterion id>","points":<integer>}]}`)
	return b.String()
}

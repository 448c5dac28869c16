package scoring

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robalobadob/skillgames/internal/content"
)

// ChoiceAnswer is one multiple-choice pick.
type ChoiceAnswer struct {
	QuestionID string `json:"questionId"`
	Option     int    `json:"option"`
}

// Key implements Keyed.
func (a ChoiceAnswer) Key() string { return a.QuestionID }

// Choice awards one point per correctly answered question.
type Choice struct {
	questions map[string]content.Question
	order     []string
}

// NewChoice builds a Choice rule over questions.
func NewChoice(questions []content.Question) *Choice {
	c := &Choice{questions: make(map[string]content.Question, len(questions))}
	for _, q := range questions {
		c.questions[q.ID] = q
		c.order = append(c.order, q.ID)
	}
	return c
}

func (c *Choice) MaxScore() int { return len(c.questions) }

func (c *Choice) Score(answers []ChoiceAnswer) int {
	n := 0
	for _, a := range latest(answers, ChoiceAnswer.Key) {
		if q, ok := c.questions[a.QuestionID]; ok && q.Correct == a.Option {
			n++
		}
	}
	return n
}

// Wrong returns the questions answered incorrectly or not at all, in
// question order.
func (c *Choice) Wrong(answers []ChoiceAnswer) []WrongChoice {
	given := make(map[string]int)
	for _, a := range latest(answers, ChoiceAnswer.Key) {
		given[a.QuestionID] = a.Option
	}
	var out []WrongChoice
	for _, id := range c.order {
		opt, ok := given[id]
		q := c.questions[id]
		if ok && opt == q.Correct {
			continue
		}
		out = append(out, WrongChoice{Question: q, Given: opt, Answered: ok})
	}
	return out
}

// WrongChoice is a question with the option the player picked, if any.
type WrongChoice struct {
	Question content.Question
	Given    int
	Answered bool
}

// NoAnswer stands in for the reply to a question that was never answered.
const NoAnswer = "(no answer)"

// GivenText returns the picked option label, NoAnswer, or a placeholder
// when the index is out of range.
func (w WrongChoice) GivenText() string {
	if !w.Answered {
		return NoAnswer
	}
	if w.Given >= 0 && w.Given < len(w.Question.Options) {
		return w.Question.Options[w.Given]
	}
	return fmt.Sprintf("option %d", w.Given)
}

// Placement puts one item into one bin.
type Placement struct {
	ItemID string `json:"itemId"`
	BinID  string `json:"binId"`
}

// Key implements Keyed; re-dragging an item moves it.
func (p Placement) Key() string { return p.ItemID }

// Sort awards one point per item placed in its expected bin.
type Sort struct {
	items map[string]content.Item
	order []string
}

// NewSort builds a Sort rule over items.
func NewSort(items []content.Item) *Sort {
	s := &Sort{items: make(map[string]content.Item, len(items))}
	for _, it := range items {
		s.items[it.ID] = it
		s.order = append(s.order, it.ID)
	}
	return s
}

func (s *Sort) MaxScore() int { return len(s.items) }

func (s *Sort) Score(answers []Placement) int {
	n := 0
	for _, p := range latest(answers, Placement.Key) {
		if it, ok := s.items[p.ItemID]; ok && it.Bin == p.BinID {
			n++
		}
	}
	return n
}

// Misplaced returns items that landed in the wrong bin or were never
// placed (Given is empty), in item order.
func (s *Sort) Misplaced(answers []Placement) []Misplacement {
	placed := make(map[string]string)
	for _, p := range latest(answers, Placement.Key) {
		placed[p.ItemID] = p.BinID
	}
	var out []Misplacement
	for _, id := range s.order {
		bin, ok := placed[id]
		it := s.items[id]
		if ok && bin == it.Bin {
			continue
		}
		out = append(out, Misplacement{Item: it, Given: bin})
	}
	return out
}

// Misplacement is an item and the bin it was dropped in.
type Misplacement struct {
	Item  content.Item
	Given string
}

// Reply is a free-text answer to one prompt.
type Reply struct {
	PromptID string `json:"promptId"`
	Text     string `json:"text"`
}

// Key implements Keyed.
func (r Reply) Key() string { return r.PromptID }

// Rubric is the deterministic free-text heuristic: a criterion earns its
// points when any of its patterns matches the reply.
type Rubric struct {
	prompts  []content.Prompt
	patterns map[string][]*regexp.Regexp
	max      int
}

// NewRubric compiles every criterion pattern up front.
func NewRubric(prompts []content.Prompt) (*Rubric, error) {
	if _, err := criterionLimits(prompts); err != nil {
		return nil, err
	}
	r := &Rubric{prompts: prompts, patterns: make(map[string][]*regexp.Regexp)}
	for _, p := range prompts {
		for _, c := range p.Criteria {
			r.max += c.Points
			for _, src := range c.Patterns {
				re, err := regexp.Compile(src)
				if err != nil {
					return nil, fmt.Errorf("scoring: criterion %q: %w", c.ID, err)
				}
				r.patterns[c.ID] = append(r.patterns[c.ID], re)
			}
		}
	}
	return r, nil
}

func (r *Rubric) MaxScore() int { return r.max }

func (r *Rubric) Score(answers []Reply) int {
	n := 0
	for _, hit := range r.evaluate(answers) {
		if hit.Met {
			n += hit.Criterion.Points
		}
	}
	return n
}

// Missed returns criteria the heuristic did not find, with the reply text.
func (r *Rubric) Missed(answers []Reply) []CriterionHit {
	var out []CriterionHit
	for _, hit := range r.evaluate(answers) {
		if !hit.Met {
			out = append(out, hit)
		}
	}
	return out
}

// Prompts returns the prompts the rubric scores.
func (r *Rubric) Prompts() []content.Prompt { return r.prompts }

// CriterionHit records whether a criterion was met for one prompt's reply.
type CriterionHit struct {
	Prompt    content.Prompt
	Criterion content.Criterion
	Reply     string
	Met       bool
}

func (r *Rubric) evaluate(answers []Reply) []CriterionHit {
	text := make(map[string]string)
	for _, a := range latest(answers, Reply.Key) {
		text[a.PromptID] = a.Text
	}
	var out []CriterionHit
	for _, p := range r.prompts {
		reply, answered := text[p.ID]
		for _, c := range p.Criteria {
			met := false
			if answered && strings.TrimSpace(reply) != "" {
				for _, re := range r.patterns[c.ID] {
					if re.MatchString(reply) {
						met = true
						break
					}
				}
			}
			out = append(out, CriterionHit{Prompt: p, Criterion: c, Reply: reply, Met: met})
		}
	}
	return out
}

// internal/content/content.go
//
// Static learning content: the recommendation catalog and per-game content
// tables (questions, bins, free-text prompts).
//
// Responsibilities:
//   - Load catalog.yaml and every other *.yaml game file from an fs.FS.
//   - Validate references (every topic a game points at exists in its subject).
//   - Serve read-only lookups: sections by subject, section by id, game by id.
//
// Initialization behavior (Init):
//   1. If a content directory is configured (CONTENT_DIR), load from it.
//   2. Otherwise load the files embedded in the assets package.
//
// Initialization runs once (sync.Once); the loaded Library is immutable.

package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/robalobadob/skillgames/assets"
)

const catalogFile = "catalog.yaml"

// Game kinds.
const (
	KindChoice   = "choice"
	KindSort     = "sort"
	KindFreeText = "freetext"
)

// Section is one recommendable piece of learning content.
type Section struct {
	TopicID string `yaml:"topicId" json:"topicId"`
	Title   string `yaml:"title" json:"title"`
	Content string `yaml:"content" json:"content"`
}

// Excerpt returns at most n runes of the section body, cut at a word boundary
// when possible.
func (s Section) Excerpt(n int) string {
	r := []rune(strings.TrimSpace(s.Content))
	if len(r) <= n {
		return string(r)
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

// Question is a multiple-choice item.
type Question struct {
	ID      string   `yaml:"id" json:"id"`
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Options []string `yaml:"options" json:"options"`
	Correct int      `yaml:"correct" json:"-"`
	Topic   string   `yaml:"topic" json:"-"`
}

// Bin is a drop target in a sorting game.
type Bin struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Topic string `yaml:"topic" json:"-"`
}

// Item is a draggable card; Bin is where it belongs.
type Item struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Bin   string `yaml:"bin" json:"-"`
}

// Criterion is one scored aspect of a free-text reply. Patterns are the
// deterministic heuristic used when no remote judge is available.
type Criterion struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description" json:"description"`
	Points      int      `yaml:"points" json:"points"`
	Patterns    []string `yaml:"patterns" json:"-"`
	Topic       string   `yaml:"topic" json:"-"`
}

// Prompt is a free-text scenario.
type Prompt struct {
	ID       string      `yaml:"id" json:"id"`
	Scenario string      `yaml:"scenario" json:"scenario"`
	Criteria []Criterion `yaml:"criteria" json:"criteria"`
}

// Game is the static content of one mini-game.
type Game struct {
	ID               string     `yaml:"id" json:"id"`
	Title            string     `yaml:"title" json:"title"`
	Subject          string     `yaml:"subject" json:"subject"`
	Kind             string     `yaml:"kind" json:"kind"`
	Intro            string     `yaml:"intro" json:"intro"`
	Instructions     string     `yaml:"instructions" json:"instructions"`
	CountdownSeconds int        `yaml:"countdownSeconds" json:"countdownSeconds,omitempty"`
	Questions        []Question `yaml:"questions" json:"questions,omitempty"`
	Bins             []Bin      `yaml:"bins" json:"bins,omitempty"`
	Items            []Item     `yaml:"items" json:"items,omitempty"`
	Prompts          []Prompt   `yaml:"prompts" json:"prompts,omitempty"`
}

// Library holds the loaded catalog and games.
type Library struct {
	subjects map[string][]Section
	games    map[string]Game
}

type catalogDoc struct {
	Subjects map[string][]Section `yaml:"subjects"`
}

// Load reads catalog.yaml and every other *.yaml file in fsys as a game.
func Load(fsys fs.FS) (*Library, error) {
	raw, err := fs.ReadFile(fsys, catalogFile)
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w", catalogFile, err)
	}
	var doc catalogDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("content: parse %s: %w", catalogFile, err)
	}
	lib := &Library{subjects: doc.Subjects, games: make(map[string]Game)}
	if lib.subjects == nil {
		lib.subjects = make(map[string][]Section)
	}

	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("content: list games: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == catalogFile {
			continue
		}
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("content: read %s: %w", name, err)
		}
		var g Game
		if err := yaml.Unmarshal(b, &g); err != nil {
			return nil, fmt.Errorf("content: parse %s: %w", name, err)
		}
		if g.ID == "" {
			g.ID = strings.TrimSuffix(path.Base(name), ".yaml")
		}
		if err := lib.validate(g); err != nil {
			return nil, fmt.Errorf("content: %s: %w", name, err)
		}
		if _, dup := lib.games[g.ID]; dup {
			return nil, fmt.Errorf("content: duplicate game id %q", g.ID)
		}
		lib.games[g.ID] = g
	}
	return lib, nil
}

// validate checks that every topic reference resolves in the game's subject
// and that ids are unique within the game. Criterion ids are unique across
// all prompts because the judge reply names criteria only.
func (l *Library) validate(g Game) error {
	if _, ok := l.subjects[g.Subject]; !ok {
		return fmt.Errorf("unknown subject %q", g.Subject)
	}
	known := func(topic string) error {
		if _, ok := l.Section(g.Subject, topic); !ok {
			return fmt.Errorf("unknown topic %q in subject %q", topic, g.Subject)
		}
		return nil
	}
	questionIDs, binIDs, itemIDs := ids("question"), ids("bin"), ids("item")
	promptIDs, criterionIDs := ids("prompt"), ids("criterion")
	switch g.Kind {
	case KindChoice:
		if len(g.Questions) == 0 {
			return errors.New("choice game without questions")
		}
		for _, q := range g.Questions {
			if err := questionIDs(q.ID); err != nil {
				return err
			}
			if q.Correct < 0 || q.Correct >= len(q.Options) {
				return fmt.Errorf("question %q: correct option out of range", q.ID)
			}
			if err := known(q.Topic); err != nil {
				return err
			}
		}
	case KindSort:
		if len(g.Bins) == 0 || len(g.Items) == 0 {
			return errors.New("sort game needs bins and items")
		}
		bins := make(map[string]bool, len(g.Bins))
		for _, b := range g.Bins {
			if err := binIDs(b.ID); err != nil {
				return err
			}
			bins[b.ID] = true
			if err := known(b.Topic); err != nil {
				return err
			}
		}
		for _, it := range g.Items {
			if err := itemIDs(it.ID); err != nil {
				return err
			}
			if !bins[it.Bin] {
				return fmt.Errorf("item %q: unknown bin %q", it.ID, it.Bin)
			}
		}
	case KindFreeText:
		if len(g.Prompts) == 0 {
			return errors.New("freetext game without prompts")
		}
		for _, p := range g.Prompts {
			if err := promptIDs(p.ID); err != nil {
				return err
			}
			for _, c := range p.Criteria {
				if err := criterionIDs(c.ID); err != nil {
					return err
				}
				if c.Points <= 0 {
					return fmt.Errorf("criterion %q: points must be positive", c.ID)
				}
				if err := known(c.Topic); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("unknown kind %q", g.Kind)
	}
	if g.CountdownSeconds < 0 {
		return errors.New("countdownSeconds must not be negative")
	}
	return nil
}

// ids returns a checker that rejects empty and repeated ids of one kind.
func ids(kind string) func(id string) error {
	seen := make(map[string]bool)
	return func(id string) error {
		if id == "" {
			return fmt.Errorf("%s without id", kind)
		}
		if seen[id] {
			return fmt.Errorf("duplicate %s id %q", kind, id)
		}
		seen[id] = true
		return nil
	}
}

// Sections returns the catalog for a subject in file order.
func (l *Library) Sections(subject string) []Section {
	return l.subjects[subject]
}

// Section finds one section by subject and topic id.
func (l *Library) Section(subject, topicID string) (Section, bool) {
	for _, s := range l.subjects[subject] {
		if s.TopicID == topicID {
			return s, true
		}
	}
	return Section{}, false
}

// Subjects lists subject ids, sorted.
func (l *Library) Subjects() []string {
	out := make([]string, 0, len(l.subjects))
	for s := range l.subjects {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Game looks up a game by id.
func (l *Library) Game(id string) (Game, bool) {
	g, ok := l.games[id]
	return g, ok
}

// Games lists all games sorted by id.
func (l *Library) Games() []Game {
	out := make([]Game, 0, len(l.games))
	for _, g := range l.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var (
	initOnce   sync.Once
	library    *Library
	initialErr error
)

// Init loads the content library exactly once, from dir when set or from the
// embedded assets otherwise. Later calls return the first result.
func Init(dir string) (*Library, error) {
	initOnce.Do(func() {
		src := assets.Content()
		if dir != "" {
			src = os.DirFS(dir)
		}
		library, initialErr = Load(src)
	})
	return library, initialErr
}

package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/robalobadob/skillgames/internal/bridge"
	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/insight"
	"github.com/robalobadob/skillgames/internal/llm"
	"github.com/robalobadob/skillgames/internal/scoring"
	"github.com/robalobadob/skillgames/internal/session"
	"github.com/robalobadob/skillgames/internal/timer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiz = []content.Question{
	{ID: "q1", Prompt: "Need or want: rent?", Options: []string{"need", "want"}, Correct: 0, Topic: "needs-vs-wants"},
	{ID: "q2", Prompt: "Pay yourself first?", Options: []string{"yes", "no"}, Correct: 0, Topic: "saving-first"},
	{ID: "q3", Prompt: "Interest grows on?", Options: []string{"principal", "nothing"}, Correct: 0, Topic: "interest-basics"},
	{ID: "q4", Prompt: "Need or want: concert?", Options: []string{"need", "want"}, Correct: 1, Topic: "needs-vs-wants"},
}

var sections = []content.Section{
	{TopicID: "needs-vs-wants", Title: "Needs vs wants", Content: "Needs keep you going."},
	{TopicID: "saving-first", Title: "Saving first", Content: "Save before you spend."},
}

func perfect() []A {
	return []A{{QuestionID: "q1", Option: 0}, {QuestionID: "q2", Option: 0}, {QuestionID: "q3", Option: 0}, {QuestionID: "q4", Option: 1}}
}

func half() []A {
	return []A{{QuestionID: "q1", Option: 0}, {QuestionID: "q2", Option: 1}, {QuestionID: "q3", Option: 0}, {QuestionID: "q4", Option: 0}}
}

func definition(countdown int) session.Definition[A] {
	rule := scoring.NewChoice(quiz)
	return session.Definition[A]{
		ID:        "budget-basics",
		Rule:      rule,
		Countdown: countdown,
		Sections:  sections,
		Mistakes: func(answers []A) []insight.Mistake {
			var out []insight.Mistake
			for _, w := range rule.Wrong(answers) {
				out = append(out, insight.Mistake{Question: w.Question.Prompt, Given: w.GivenText(), TopicID: w.Question.Topic})
			}
			return out
		},
	}
}

// countingGen replies with a fixed text and counts calls. If gate is set,
// each call blocks until it is closed.
type countingGen struct {
	calls atomic.Int32
	reply string
	gate  chan struct{}
}

func (g *countingGen) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	return g.reply, nil
}

var _ llm.Generator = (*countingGen)(nil)

type judgeFunc func(ctx context.Context, answers []A) (int, error)

func (f judgeFunc) Judge(ctx context.Context, answers []A) (int, error) { return f(ctx, answers) }

type reports struct {
	mu   sync.Mutex
	list []session.Report
}

func (r *reports) Report(ctx context.Context, rep session.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, rep)
	return nil
}

func (r *reports) all() []session.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Report(nil), r.list...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRunner(t *testing.T, def session.Definition[A], opts ...session.Option[A]) *session.Runner[A] {
	t.Helper()
	opts = append([]session.Option[A]{
		session.WithScheduler[A](timer.NewManual()),
		session.WithClock[A](func() time.Time { return fixedNow }),
	}, opts...)
	r := session.NewRunner("inst-1", def, opts...)
	t.Cleanup(func() {
		r.Close()
		r.Wait()
	})
	return r
}

func play(r *session.Runner[A]) {
	r.Dispatch(session.Action[A]{Kind: session.ShowInstructions})
	r.Dispatch(session.Action[A]{Kind: session.Start})
}

func TestPerfectScoreGetsCannedInsightWithoutRemoteCall(t *testing.T) {
	gen := &countingGen{reply: `{"detectedTopicId":"saving-first","insight":"x"}`}
	r := newRunner(t, definition(0), session.WithResolver[A](&insight.Resolver{Gen: gen}))

	play(r)
	s := r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: perfect()})

	assert.Equal(t, session.PhaseFinished, s.Phase)
	assert.Equal(t, 4, s.Score)
	require.NotNil(t, s.Insight, "available immediately")
	assert.Equal(t, insight.PerfectMessage, s.Insight.Message)
	assert.Empty(t, s.Insight.RecommendedSectionID)
	r.Wait()
	assert.Zero(t, gen.calls.Load())
}

func TestMalformedRemoteInsightFallsBack(t *testing.T) {
	gen := &countingGen{reply: "Sure! Here is my analysis: {not json"}
	r := newRunner(t, definition(0), session.WithResolver[A](&insight.Resolver{Gen: gen}))

	play(r)
	s := r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: half()})
	assert.Equal(t, 2, s.Score)
	r.Wait()

	s = r.Session()
	require.NotNil(t, s.Insight)
	assert.Equal(t, insight.FallbackMessage, s.Insight.Message)
	assert.Equal(t, "needs-vs-wants", s.Insight.RecommendedSectionID)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestRemoteInsightIsAppliedOnce(t *testing.T) {
	gen := &countingGen{reply: "```json\n{\"detectedTopicId\":\"saving-first\",\"insight\":\"Pay yourself first.\"}\n```"}
	r := newRunner(t, definition(0), session.WithResolver[A](&insight.Resolver{Gen: gen}))

	play(r)
	r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: half()})
	r.Wait()
	s := r.Session()
	require.NotNil(t, s.Insight)
	assert.Equal(t, "saving-first", s.Insight.RecommendedSectionID)
	assert.Equal(t, insight.SourceRemote, s.Insight.Source)

	// Revisiting the results screen does not ask again.
	r.Dispatch(session.Action[A]{Kind: session.ViewFeedback})
	r.Dispatch(session.Action[A]{Kind: session.Back})
	r.Wait()
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestResetDropsInFlightInsight(t *testing.T) {
	gen := &countingGen{reply: `{"detectedTopicId":"saving-first","insight":"late"}`, gate: make(chan struct{})}
	r := newRunner(t, definition(0), session.WithResolver[A](&insight.Resolver{Gen: gen}))

	play(r)
	r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: half()})
	s := r.Dispatch(session.Action[A]{Kind: session.Reset})
	require.Equal(t, session.PhasePlaying, s.Phase)

	close(gen.gate)
	r.Wait()
	s = r.Session()
	assert.Equal(t, session.PhasePlaying, s.Phase)
	assert.Nil(t, s.Insight)
}

func TestHandoffRestoresOnceAndEmptiesSlot(t *testing.T) {
	ctx := context.Background()
	slots := bridge.NewMemory()
	first := newRunner(t, definition(0), session.WithHandoff[A](bridge.New[A](slots, "budget-basics", "learner-1")))

	play(first)
	first.Dispatch(session.Action[A]{Kind: session.Answer, Answer: A{QuestionID: "q1", Option: 0}})
	first.Dispatch(session.Action[A]{Kind: session.Answer, Answer: A{QuestionID: "q2", Option: 1}})
	saved := first.Session()
	require.NoError(t, first.Handoff(ctx))
	first.Close()

	second := newRunner(t, definition(0), session.WithHandoff[A](bridge.New[A](slots, "budget-basics", "learner-1")))
	require.True(t, second.Mount(ctx))
	got := second.Session()
	assert.Equal(t, saved.Phase, got.Phase)
	assert.Equal(t, saved.Answers, got.Answers)
	assert.Equal(t, saved.StartedAt, got.StartedAt)

	_, ok, err := slots.Take(ctx, bridge.Key("budget-basics", "learner-1"))
	require.NoError(t, err)
	assert.False(t, ok, "slot is empty after restore")

	third := newRunner(t, definition(0), session.WithHandoff[A](bridge.New[A](slots, "budget-basics", "learner-1")))
	assert.False(t, third.Mount(ctx))
	assert.Equal(t, session.PhaseIntro, third.Session().Phase)
}

func TestRestoreRefusedAfterFirstAction(t *testing.T) {
	r := newRunner(t, definition(0))
	r.Dispatch(session.Action[A]{Kind: session.ShowInstructions})

	other := session.New[A](4)
	other.Phase = session.PhaseFinished
	other.Score = 3
	s := r.Dispatch(session.Action[A]{Kind: session.Restore, Restored: &other})
	assert.Equal(t, session.PhaseInstructions, s.Phase)
}

func TestStaleCountdownIsIgnored(t *testing.T) {
	sched := timer.NewManual()
	r := newRunner(t, definition(5), session.WithScheduler[A](sched))

	play(r)
	require.Equal(t, 1, sched.Active())
	sched.Advance(2 * time.Second)
	assert.Equal(t, 3, r.Session().Remaining)

	r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: perfect()})
	assert.Zero(t, sched.Active(), "countdown stops on leaving playing")
	before := r.Session()

	sched.Advance(time.Minute)
	after := r.Session()
	assert.Equal(t, before, after)
	assert.False(t, after.TimedOut)
}

func TestCountdownExpiryFinishesRound(t *testing.T) {
	sched := timer.NewManual()
	rep := &reports{}
	r := newRunner(t, definition(3), session.WithScheduler[A](sched), session.WithReporter[A](rep))

	play(r)
	r.Dispatch(session.Action[A]{Kind: session.Answer, Answer: A{QuestionID: "q1", Option: 0}})
	sched.Advance(3 * time.Second)

	s := r.Session()
	assert.Equal(t, session.PhaseFinished, s.Phase)
	assert.True(t, s.TimedOut)
	assert.Equal(t, 1, s.Score)
	assert.Zero(t, sched.Active())

	r.Wait()
	got := rep.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].TimedOut)
	assert.Equal(t, "budget-basics", got[0].GameID)
}

func TestResetRestartsCountdown(t *testing.T) {
	sched := timer.NewManual()
	r := newRunner(t, definition(10), session.WithScheduler[A](sched))

	play(r)
	r.Dispatch(session.Action[A]{Kind: session.Submit})
	s := r.Dispatch(session.Action[A]{Kind: session.Reset})
	assert.Equal(t, 10, s.Remaining)
	assert.Equal(t, 1, sched.Active())
}

func TestAsyncScoringBlocksDuplicateSubmit(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	def := definition(0)
	rule := scoring.NewChoice(quiz)
	judged := scoring.Judged[A]{
		Remote: judgeFunc(func(ctx context.Context, answers []A) (int, error) {
			calls.Add(1)
			<-release
			return 3, nil
		}),
		Fallback: rule,
	}
	def.Rule = judged
	def.Evaluator = judged
	r := newRunner(t, def)

	play(r)
	s := r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: half()})
	assert.True(t, s.Scoring)
	assert.Equal(t, session.PhasePlaying, s.Phase)

	again := r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: perfect()})
	assert.Equal(t, s, again)

	close(release)
	r.Wait()
	s = r.Session()
	assert.Equal(t, session.PhaseFinished, s.Phase)
	assert.False(t, s.Scoring)
	assert.Equal(t, 3, s.Score, "remote score wins")
	assert.Equal(t, int32(1), calls.Load())
	require.NotNil(t, s.Insight)
}

func TestAsyncScoringFallsBackToRule(t *testing.T) {
	def := definition(0)
	rule := scoring.NewChoice(quiz)
	judged := scoring.Judged[A]{
		Remote: judgeFunc(func(ctx context.Context, answers []A) (int, error) {
			return 0, errors.New("model unavailable")
		}),
		Fallback: rule,
	}
	def.Rule = judged
	def.Evaluator = judged
	r := newRunner(t, def)

	play(r)
	r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: half()})
	r.Wait()
	assert.Equal(t, 2, r.Session().Score)
}

func TestReportCarriesElapsed(t *testing.T) {
	clk := &clock{t: fixedNow}
	rep := &reports{}
	r := newRunner(t, definition(0), session.WithClock[A](clk.Now), session.WithReporter[A](rep))

	play(r)
	clk.Add(42 * time.Second)
	r.Dispatch(session.Action[A]{Kind: session.Submit, Answers: perfect()})
	r.Wait()

	got := rep.all()
	require.Len(t, got, 1)
	assert.Equal(t, 42*time.Second, got[0].Elapsed)
	assert.Equal(t, 4, got[0].Score)
	assert.Equal(t, "inst-1", got[0].InstanceID)
}

func TestClosedRunnerIgnoresActions(t *testing.T) {
	r := newRunner(t, definition(0))
	r.Close()
	s := r.Dispatch(session.Action[A]{Kind: session.ShowInstructions})
	assert.Equal(t, session.PhaseIntro, s.Phase)
}

func TestDoDecodesCommands(t *testing.T) {
	r := newRunner(t, definition(0))

	_, err := r.Do(session.Command{Type: session.Tick})
	assert.ErrorIs(t, err, session.ErrUnknownCommand)

	_, err = r.Do(session.Command{Type: session.Answer})
	assert.ErrorIs(t, err, session.ErrBadPayload)

	_, err = r.Do(session.Command{Type: session.Answer, Answer: json.RawMessage(`"q1"`)})
	assert.ErrorIs(t, err, session.ErrBadPayload)

	_, err = r.Do(session.Command{Type: session.ShowInstructions})
	require.NoError(t, err)
	_, err = r.Do(session.Command{Type: session.Start})
	require.NoError(t, err)
	v, err := r.Do(session.Command{Type: session.Answer, Answer: json.RawMessage(`{"questionId":"q2","option":0}`)})
	require.NoError(t, err)
	assert.Equal(t, "inst-1", v.InstanceID)
	assert.Equal(t, "budget-basics", v.GameID)

	v, err = r.Do(session.Command{Type: session.Submit, Answers: json.RawMessage(`null`)})
	require.NoError(t, err)
	s, ok := v.Session.(session.Session[A])
	require.True(t, ok)
	assert.Equal(t, 1, s.Score)
}

func TestToggleAudioAnyPhase(t *testing.T) {
	r := newRunner(t, definition(0))
	s := r.Dispatch(session.Action[A]{Kind: session.ToggleAudio})
	assert.True(t, s.BackgroundAudio)
	play(r)
	s = r.Dispatch(session.Action[A]{Kind: session.ToggleAudio})
	assert.False(t, s.BackgroundAudio)
}

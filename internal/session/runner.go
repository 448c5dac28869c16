package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/insight"
	"github.com/robalobadob/skillgames/internal/scoring"
	"github.com/robalobadob/skillgames/internal/timer"
)

// Evaluator scores answers asynchronously (scoring.Judged implements it).
type Evaluator[A any] interface {
	Evaluate(ctx context.Context, answers []A) scoring.Result
}

// Handoff is the read-once persistence slot (bridge.Bridge implements it).
type Handoff[A any] interface {
	Save(ctx context.Context, s Session[A]) error
	Restore(ctx context.Context) (*Session[A], error)
}

// Report is what gets recorded when a round finishes. InstanceID and Round
// together identify the round; Round counts up on every start or reset.
type Report struct {
	InstanceID string
	Round      int
	GameID     string
	Score      int
	MaxScore   int
	Elapsed    time.Duration
	TimedOut   bool
}

// Reporter receives finished rounds.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Definition describes one game to the runner.
type Definition[A any] struct {
	ID        string
	Rule      scoring.Rule[A]
	Evaluator Evaluator[A] // optional; set for remotely scored games
	Countdown int          // seconds; zero for untimed games
	Sections  []content.Section
	Mistakes  func(answers []A) []insight.Mistake
}

// Runner is one running game instance. It owns its Session exclusively and
// serializes every transition behind mu: player actions, countdown ticks and
// async completions all go through the same path.
type Runner[A any] struct {
	id       string
	def      Definition[A]
	machine  Machine[A]
	resolver *insight.Resolver
	sched    timer.Scheduler
	handoff  Handoff[A]
	reporter Reporter
	now      func() time.Time
	log      zerolog.Logger

	mu            sync.Mutex
	state         Session[A]
	touched       bool // any action applied; restore is refused afterwards
	closed        bool
	epoch         int // bumped per round; stale async results are dropped
	timerGen      int
	stopTimer     func()
	insightFlight bool

	wg sync.WaitGroup
}

// Option configures a Runner.
type Option[A any] func(*Runner[A])

// WithScheduler sets the countdown scheduler (default timer.Ticker).
func WithScheduler[A any](s timer.Scheduler) Option[A] {
	return func(r *Runner[A]) { r.sched = s }
}

// WithResolver sets the insight resolver (default: fallback-only).
func WithResolver[A any](res *insight.Resolver) Option[A] {
	return func(r *Runner[A]) { r.resolver = res }
}

// WithHandoff sets the persistence bridge used by Mount and Handoff.
func WithHandoff[A any](h Handoff[A]) Option[A] {
	return func(r *Runner[A]) { r.handoff = h }
}

// WithReporter sets where finished rounds are recorded.
func WithReporter[A any](rep Reporter) Option[A] {
	return func(r *Runner[A]) { r.reporter = rep }
}

// WithClock overrides time.Now.
func WithClock[A any](now func() time.Time) Option[A] {
	return func(r *Runner[A]) { r.now = now }
}

// WithLogger sets the runner's logger.
func WithLogger[A any](l zerolog.Logger) Option[A] {
	return func(r *Runner[A]) { r.log = l }
}

// NewRunner creates an instance in the intro phase.
func NewRunner[A any](id string, def Definition[A], opts ...Option[A]) *Runner[A] {
	r := &Runner[A]{
		id:       id,
		def:      def,
		resolver: &insight.Resolver{},
		sched:    timer.Ticker{},
		now:      time.Now,
		log:      log.Logger,
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With().Str("instance", id).Str("game", def.ID).Logger()
	r.machine = Machine[A]{
		Rule:      def.Rule,
		Async:     def.Evaluator != nil,
		Countdown: def.Countdown,
		Now:       r.now,
	}
	r.state = New[A](def.Rule.MaxScore())
	return r
}

// ID returns the instance id.
func (r *Runner[A]) ID() string { return r.id }

// GameID returns the game id.
func (r *Runner[A]) GameID() string { return r.def.ID }

// Mount restores a handed-off session, if one is waiting. It must be called
// before any other action; it reports whether a session was restored.
// Storage errors are logged and the game starts fresh.
func (r *Runner[A]) Mount(ctx context.Context) bool {
	if r.handoff == nil {
		return false
	}
	saved, err := r.handoff.Restore(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("handoff restore failed; starting fresh")
		return false
	}
	if saved == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touched {
		return false
	}
	_, changed := r.applyLocked(Action[A]{Kind: Restore, Restored: saved})
	return changed
}

// Dispatch applies a and returns a copy of the resulting session. Invalid
// actions leave the session untouched.
func (r *Runner[A]) Dispatch(a Action[A]) Session[A] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.state.Clone()
	}
	if a.Kind == Restore && r.touched {
		return r.state.Clone()
	}
	r.applyLocked(a)
	return r.state.Clone()
}

// Session returns a copy of the current session.
func (r *Runner[A]) Session() Session[A] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Handoff saves a copy of the session to the bridge.
func (r *Runner[A]) Handoff(ctx context.Context) error {
	if r.handoff == nil {
		return nil
	}
	return r.handoff.Save(ctx, r.Session())
}

// Close stops the countdown and makes the runner ignore further actions.
// In-flight remote calls are not cancelled; their results are discarded.
func (r *Runner[A]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.stopCountdownLocked()
}

// Wait blocks until background work (remote scoring, insight, reports) is done.
func (r *Runner[A]) Wait() { r.wg.Wait() }

func (r *Runner[A]) applyLocked(a Action[A]) (Effect, bool) {
	r.touched = true
	next, eff, changed := r.machine.Apply(r.state, a)
	if !changed {
		return 0, false
	}
	prev := r.state.Phase
	r.state = next
	if prev != next.Phase {
		r.log.Debug().Str("from", string(prev)).Str("to", string(next.Phase)).Str("action", string(a.Kind)).Msg("phase")
	}
	r.runEffectsLocked(eff)
	return eff, true
}

func (r *Runner[A]) runEffectsLocked(eff Effect) {
	if eff.Has(EffectNewRound) {
		r.epoch++
		r.insightFlight = false
	}
	if eff.Has(EffectStopCountdown) {
		r.stopCountdownLocked()
	}
	if eff.Has(EffectStartCountdown) {
		r.startCountdownLocked()
	}
	if eff.Has(EffectEvaluate) {
		r.evaluateLocked()
	}
	if eff.Has(EffectReport) {
		r.reportLocked()
	}
	if eff.Has(EffectResolveInsight) {
		r.resolveInsightLocked()
	}
}

func (r *Runner[A]) stopCountdownLocked() {
	r.timerGen++
	if r.stopTimer != nil {
		r.stopTimer()
		r.stopTimer = nil
	}
}

func (r *Runner[A]) startCountdownLocked() {
	r.stopCountdownLocked()
	gen := r.timerGen
	r.stopTimer = r.sched.Every(time.Second, func() { r.tick(gen) })
}

// tick runs on the scheduler's goroutine. A tick from a stopped countdown
// carries an old generation and is ignored.
func (r *Runner[A]) tick(gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.timerGen {
		return
	}
	r.applyLocked(Action[A]{Kind: Tick})
}

func (r *Runner[A]) evaluateLocked() {
	if r.def.Evaluator == nil {
		r.applyLocked(Action[A]{Kind: Scored, Points: scoring.Apply(r.def.Rule, r.state.Answers).Points})
		return
	}
	epoch := r.epoch
	answers := r.state.Clone().Answers
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res := r.def.Evaluator.Evaluate(context.Background(), answers)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || epoch != r.epoch {
			return
		}
		r.log.Info().Int("points", res.Points).Str("source", string(res.Source)).Msg("evaluated")
		r.applyLocked(Action[A]{Kind: Scored, Points: res.Points})
	}()
}

func (r *Runner[A]) resolveInsightLocked() {
	if r.state.Insight != nil || r.insightFlight || !r.state.Phase.Terminal() {
		return
	}
	req := insight.Request{
		Score:    r.state.Score,
		MaxScore: r.state.MaxScore,
		Sections: r.def.Sections,
	}
	if ins, ok := r.resolver.Immediate(req); ok {
		r.applyLocked(Action[A]{Kind: InsightReady, Insight: &ins})
		return
	}
	if r.def.Mistakes != nil {
		req.Mistakes = r.def.Mistakes(r.state.Clone().Answers)
	}
	r.insightFlight = true
	epoch := r.epoch
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ins := r.resolver.Resolve(context.Background(), req)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || epoch != r.epoch {
			return
		}
		r.insightFlight = false
		r.applyLocked(Action[A]{Kind: InsightReady, Insight: &ins})
	}()
}

func (r *Runner[A]) reportLocked() {
	if r.reporter == nil {
		return
	}
	rep := Report{
		InstanceID: r.id,
		Round:      r.epoch,
		GameID:     r.def.ID,
		Score:      r.state.Score,
		MaxScore:   r.state.MaxScore,
		TimedOut:   r.state.TimedOut,
	}
	if !r.state.StartedAt.IsZero() {
		rep.Elapsed = r.now().Sub(r.state.StartedAt)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.reporter.Report(context.Background(), rep); err != nil {
			r.log.Warn().Err(err).Msg("report result")
		}
	}()
}

// internal/timer/timer.go
//
// Repeating callbacks for timed game phases (countdowns).
//
// Scheduler is injected into session runners so tests can drive time by hand
// (Manual) while the server uses real tickers (Ticker). Every stop function
// is idempotent and never blocks, so it is safe to call while holding the
// lock that the callback itself needs.

package timer

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn every d until the returned stop func is called.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// Ticker is the real-time Scheduler. Each Every call owns one goroutine that
// exits when stopped.
type Ticker struct{}

// Every starts a ticker goroutine.
func (Ticker) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Manual is a fake Scheduler driven by Advance. Callbacks run synchronously
// on the goroutine calling Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	jobs   map[int]*job
}

type job struct {
	id     int
	period time.Duration
	next   time.Duration
	fn     func()
}

// NewManual returns a Manual scheduler at t=0.
func NewManual() *Manual {
	return &Manual{jobs: make(map[int]*job)}
}

// Every registers fn to fire each time Advance crosses a multiple of d.
func (m *Manual) Every(d time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.jobs[id] = &job{id: id, period: d, next: m.now + d, fn: fn}
	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}
}

// Active reports how many schedules have not been stopped.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Advance moves the clock forward by d, firing due callbacks in time order.
// A callback may stop its own or any other schedule; stopped schedules do
// not fire again even within the same Advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due *job
		for _, j := range m.sortedJobs() {
			if j.next <= target {
				due = j
				break
			}
		}
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.next += due.period
		fn := due.fn
		m.mu.Unlock()
		fn()
	}
}

// sortedJobs orders by next fire time, then by registration.
func (m *Manual) sortedJobs() []*job {
	out := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].next != out[b].next {
			return out[a].next < out[b].next
		}
		return out[a].id < out[b].id
	})
	return out
}

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a backtest run.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ProgressFunc receives the completion percentage once per simulated date,
// synchronously from the simulation goroutine.
type ProgressFunc func(pct float64)

// Run is the handle of one backtest. It is safe for concurrent use.
type Run struct {
	id        string
	strategy  string
	cfg       Config
	createdAt time.Time

	stop   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	state    State
	progress float64
	result   *Result
	err      error
	watchers []func(Snapshot)
}

// Snapshot is a point-in-time view of a run's status.
type Snapshot struct {
	RunID    string    `json:"run_id"`
	Strategy string    `json:"strategy"`
	State    State     `json:"state"`
	Progress float64   `json:"progress"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

func newRun(cfg Config, strategy string) *Run {
	return &Run{
		id:        uuid.NewString(),
		strategy:  strategy,
		cfg:       cfg,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
		state:     StateCreated,
	}
}

func (r *Run) ID() string           { return r.id }
func (r *Run) Strategy() string     { return r.strategy }
func (r *Run) Config() Config       { return r.cfg }
func (r *Run) CreatedAt() time.Time { return r.createdAt }

func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Progress returns the completion percentage in [0, 100].
func (r *Run) Progress() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Snapshot returns the run's current status.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() Snapshot {
	s := Snapshot{
		RunID:    r.id,
		Strategy: r.strategy,
		State:    r.state,
		Progress: r.progress,
		Time:     time.Now().UTC(),
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}

// Cancel asks the run to stop at the next date boundary. The partial result
// is kept and the run ends Cancelled.
func (r *Run) Cancel() {
	r.stop.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Run) cancelled() bool { return r.stop.Load() }

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its result.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.err
}

// Result returns the final result once the run has finished.
func (r *Run) Result() (*Result, bool) {
	select {
	case <-r.done:
	default:
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.result != nil
}

// watch registers fn to be called after every state or progress change.
func (r *Run) watch(fn func(Snapshot)) {
	r.mu.Lock()
	r.watchers = append(r.watchers, fn)
	r.mu.Unlock()
}

func (r *Run) update(fn func()) {
	r.mu.Lock()
	fn()
	snap := r.snapshotLocked()
	watchers := r.watchers
	r.mu.Unlock()
	for _, w := range watchers {
		w(snap)
	}
}

func (r *Run) setState(s State) {
	r.update(func() { r.state = s })
}

func (r *Run) setProgress(pct float64) {
	r.update(func() { r.progress = pct })
}

func (r *Run) finish(res *Result, err error) {
	r.update(func() {
		r.result = res
		r.err = err
		if res != nil {
			r.state = res.State
		} else {
			r.state = StateFailed
		}
		if r.state == StateCompleted {
			r.progress = 100
		}
	})
	close(r.done)
}

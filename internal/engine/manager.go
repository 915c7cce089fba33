package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"stockanalyzer/internal/strategy"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunFinished  = errors.New("run already finished")
	ErrRunNotDone   = errors.New("run still in progress")
	ErrRunDuplicate = errors.New("run already tracked")
)

// RunManager tracks the runs started by a service and fans their status
// changes out to subscribers. Slow subscribers miss events rather than
// blocking a simulation.
type RunManager struct {
	log *slog.Logger

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string

	subsMu sync.Mutex
	nextID int
	subs   map[int]chan Snapshot
}

func NewRunManager(logger *slog.Logger) *RunManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunManager{
		log:  logger.With("component", "runs"),
		runs: make(map[string]*Run),
		subs: make(map[int]chan Snapshot),
	}
}

// Start launches a run on eng and tracks it.
func (m *RunManager) Start(ctx context.Context, eng *Engine, cfg Config, strat strategy.Strategy) (*Run, error) {
	cfg, err := prepare(cfg, strat)
	if err != nil {
		return nil, err
	}
	run := newRun(cfg, strat.Name())
	if err := m.Add(run); err != nil {
		return nil, err
	}
	eng.launch(ctx, run, strat, nil, nil)
	return run, nil
}

// Add tracks a run created elsewhere. Its status changes are broadcast from
// now on.
func (m *RunManager) Add(run *Run) error {
	m.mu.Lock()
	if _, ok := m.runs[run.ID()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunDuplicate, run.ID())
	}
	m.runs[run.ID()] = run
	m.order = append(m.order, run.ID())
	m.mu.Unlock()

	run.watch(m.broadcast)
	m.broadcast(run.Snapshot())
	m.log.Info("run tracked", "run", run.ID(), "strategy", run.Strategy())
	return nil
}

func (m *RunManager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, nil
}

// List returns tracked runs in the order they were added.
func (m *RunManager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.runs[id])
	}
	return out
}

// Cancel stops a running run.
func (m *RunManager) Cancel(id string) error {
	run, err := m.Get(id)
	if err != nil {
		return err
	}
	if run.State().Terminal() {
		return fmt.Errorf("%s: %w", id, ErrRunFinished)
	}
	run.Cancel()
	m.log.Info("run cancel requested", "run", id)
	return nil
}

// Remove forgets a finished run.
func (m *RunManager) Remove(id string) error {
	run, err := m.Get(id)
	if err != nil {
		return err
	}
	if !run.State().Terminal() {
		return fmt.Errorf("%s: %w", id, ErrRunNotDone)
	}
	m.mu.Lock()
	delete(m.runs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return nil
}

// CancelAll stops every unfinished run, e.g. on shutdown.
func (m *RunManager) CancelAll() {
	for _, run := range m.List() {
		if !run.State().Terminal() {
			run.Cancel()
		}
	}
}

// Subscribe returns a channel that receives run status changes. bufSize
// controls the channel buffer.
func (m *RunManager) Subscribe(bufSize int) (int, <-chan Snapshot) {
	ch := make(chan Snapshot, bufSize)
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *RunManager) Unsubscribe(id int) {
	m.subsMu.Lock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
	m.subsMu.Unlock()
}

// broadcast sends a snapshot to all subscribers non-blocking (drop on full).
func (m *RunManager) broadcast(s Snapshot) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

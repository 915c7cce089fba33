// Package strategy defines the Strategy interface consumed by the backtest
// engine and provides a Registry for looking strategies up by name.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stockanalyzer/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Initialize is called once before the first trading date with the
	// run's universe and date range.
	Initialize(ctx context.Context, universe []string, start, end time.Time) error

	// ShouldRebalance reports whether GenerateSignals should be called on
	// date.
	ShouldRebalance(date time.Time) bool

	// GenerateSignals returns the trading intents for the current date. The
	// context only exposes data up to and including the date being
	// simulated.
	GenerateSignals(ctx context.Context, sc *Context) ([]domain.Signal, error)
}

// Sizer is implemented by strategies that choose their own order quantity
// for signals without an explicit Qty.
type Sizer interface {
	PositionSize(sig domain.Signal, sc *Context) float64
}

// Params are numeric strategy parameters, e.g. from a parameter sweep.
type Params map[string]float64

// Get returns p[key] or def when absent.
func (p Params) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Factory builds a fresh strategy instance from parameters.
type Factory func(params Params) (Strategy, error)

// Registry holds named strategy factories. Every lookup builds a new
// instance so concurrent runs never share strategy state.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a fixed strategy instance under its Name(). The same
// instance is returned by every Get.
func (r *Registry) Register(s Strategy) {
	r.RegisterFactory(s.Name(), func(Params) (Strategy, error) { return s, nil })
}

// RegisterFactory adds a strategy constructor under name.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get builds the named strategy with default parameters. The second return
// value indicates whether the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, err := r.New(name, nil)
	if err != nil {
		return nil, false
	}
	return s, true
}

// New builds the named strategy with params.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered", name)
	}
	return f(params)
}

// Factory returns the constructor registered under name.
func (r *Registry) Factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package engine runs backtests: it replays historical bars date by date
// through a strategy, a simulated broker and a risk manager, and collects
// the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/strategy"
	"stockanalyzer/internal/util"
)

// Engine runs backtests against bars from a Provider. An Engine holds no
// per-run state; any number of runs may execute concurrently.
type Engine struct {
	provider gather.Provider
	log      *slog.Logger
	tracer   trace.Tracer
	calendar *util.TradingCalendar
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCalendar overrides the calendar used to normalise bar timestamps to
// session dates. By default the calendar follows Config.Market.
func WithCalendar(c *util.TradingCalendar) Option {
	return func(e *Engine) { e.calendar = c }
}

func NewEngine(provider gather.Provider, opts ...Option) *Engine {
	e := &Engine{provider: provider}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = util.NoopTracer()
	}
	e.log = e.log.With("component", "engine")
	return e
}

// prepare normalises and validates cfg.
func prepare(cfg Config, strat strategy.Strategy) (Config, error) {
	if strat == nil {
		return cfg, fmt.Errorf("%w: strategy is required", ErrInvalidConfig)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Run executes a backtest synchronously. Configuration errors are returned
// with a nil result. Otherwise a result is always returned; its State tells
// whether the run completed, was cancelled through ctx, or failed, in which
// case the error is returned too.
func (e *Engine) Run(ctx context.Context, cfg Config, strat strategy.Strategy, progress ProgressFunc) (*Result, error) {
	cfg, err := prepare(cfg, strat)
	if err != nil {
		return nil, err
	}
	run := newRun(cfg, strat.Name())
	res, err := e.execute(ctx, run, strat, nil, progress)
	run.finish(res, err)
	return res, err
}

// Start launches a backtest in a new goroutine and returns its handle.
// ctx bounds the lifetime of the run.
func (e *Engine) Start(ctx context.Context, cfg Config, strat strategy.Strategy, progress ProgressFunc) (*Run, error) {
	cfg, err := prepare(cfg, strat)
	if err != nil {
		return nil, err
	}
	run := newRun(cfg, strat.Name())
	e.launch(ctx, run, strat, nil, progress)
	return run, nil
}

func (e *Engine) launch(ctx context.Context, run *Run, strat strategy.Strategy, data *dataset, progress ProgressFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	run.cancel = cancel
	go func() {
		defer cancel()
		res, err := e.execute(runCtx, run, strat, data, progress)
		run.finish(res, err)
	}()
}

func (e *Engine) calendarFor(cfg Config) *util.TradingCalendar {
	if e.calendar != nil {
		return e.calendar
	}
	return util.NewTradingCalendar(cfg.Market)
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// dataset is the read-only market data of a run. Sweeps share one dataset
// between runs.
type dataset struct {
	bars    map[string][]domain.Bar
	dates   []time.Time
	bench   []domain.Bar
	missing []string
}

func (e *Engine) load(ctx context.Context, cfg Config) (*dataset, error) {
	if e.provider == nil {
		return nil, errors.New("no data provider configured")
	}
	symbols := cfg.Symbols
	if cfg.BenchmarkSymbol != "" && !slices.Contains(symbols, cfg.BenchmarkSymbol) {
		symbols = append(symbols[:len(symbols):len(symbols)], cfg.BenchmarkSymbol)
	}
	from := cfg.Start.AddDate(0, 0, -cfg.WarmupDays)
	raw, err := e.provider.GetBars(ctx, symbols, from, cfg.End, cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("fetching bars: %w", err)
	}

	cal := e.calendarFor(cfg)
	daily := cfg.Timeframe == gather.TimeframeDaily
	ds := &dataset{bars: make(map[string][]domain.Bar, len(cfg.Symbols))}
	normalise := func(sym string, in []domain.Bar) []domain.Bar {
		out := make([]domain.Bar, 0, len(in))
		for _, b := range in {
			if daily {
				b.Timestamp = cal.SessionDate(b.Timestamp)
			}
			if b.Timestamp.Before(from) || b.Timestamp.After(cfg.End) {
				continue
			}
			b.Symbol = sym
			out = append(out, b)
		}
		gather.SortBars(out)
		return dedupe(out)
	}

	seen := make(map[time.Time]bool)
	for _, sym := range cfg.Symbols {
		bars := normalise(sym, raw[sym])
		if len(bars) == 0 {
			ds.missing = append(ds.missing, sym)
			continue
		}
		ds.bars[sym] = bars
		for _, b := range bars {
			if !b.Timestamp.Before(cfg.Start) && !seen[b.Timestamp] {
				seen[b.Timestamp] = true
				ds.dates = append(ds.dates, b.Timestamp)
			}
		}
	}
	sort.Slice(ds.dates, func(i, j int) bool { return ds.dates[i].Before(ds.dates[j]) })
	if cfg.BenchmarkSymbol != "" {
		ds.bench = normalise(cfg.BenchmarkSymbol, raw[cfg.BenchmarkSymbol])
	}
	return ds, nil
}

// dedupe keeps the last bar of each timestamp in a sorted slice.
func dedupe(bars []domain.Bar) []domain.Bar {
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

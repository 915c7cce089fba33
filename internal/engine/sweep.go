package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"stockanalyzer/internal/strategy"
)

// SweepResult is the outcome of one parameter combination.
type SweepResult struct {
	Params strategy.Params `json:"params"`
	Result *Result         `json:"result,omitempty"`
	Err    error           `json:"-"`
}

// Grid expands per-parameter value lists into their cartesian product.
// Keys vary slowest-first in sorted order, so the output is deterministic.
func Grid(values map[string][]float64) []strategy.Params {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if len(v) == 0 {
			return nil
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []strategy.Params{{}}
	for _, k := range keys {
		next := make([]strategy.Params, 0, len(out)*len(values[k]))
		for _, base := range out {
			for _, v := range values[k] {
				p := make(strategy.Params, len(base)+1)
				for bk, bv := range base {
					p[bk] = bv
				}
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// Sweep runs one independent backtest per parameter set with at most
// workers in flight. Bars are fetched once and shared read-only. Results are
// returned in grid order; a failing combination records its error and does
// not stop the others.
func (e *Engine) Sweep(ctx context.Context, base Config, grid []strategy.Params, factory strategy.Factory, workers int) ([]SweepResult, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: strategy factory is required", ErrInvalidConfig)
	}
	cfg := base.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	data, err := e.load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.log.Info("starting sweep", "combinations", len(grid), "workers", workers)

	results := make([]SweepResult, len(grid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, params := range grid {
		results[i].Params = params
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			strat, err := factory(params)
			if err != nil {
				results[i].Err = fmt.Errorf("building strategy: %w", err)
				return nil
			}
			run := newRun(cfg, strat.Name())
			res, err := e.execute(gctx, run, strat, data, nil)
			run.finish(res, err)
			results[i].Result, results[i].Err = res, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

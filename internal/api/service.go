package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/engine"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/store"
	"stockanalyzer/internal/strategy"
	sa "stockanalyzer/pkg/stockanalyzer"
)

var (
	// ErrBadRequest wraps request validation failures.
	ErrBadRequest = errors.New("bad request")
	// ErrNoBarStore is returned by symbol listing when no bar store is
	// configured.
	ErrNoBarStore = errors.New("no bar store configured")
)

// startBacktest validates req against the defaults and launches the run.
func (s *Server) startBacktest(req sa.BacktestRequest) (*engine.Run, error) {
	cfg, err := buildConfig(s.defaults, req)
	if err != nil {
		return nil, err
	}
	strat, err := s.registry.New(req.Strategy, strategy.Params(req.Params))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	run, err := s.runs.Start(s.baseCtx, s.engine, cfg, strat)
	if err != nil {
		return nil, err
	}
	s.log.Info("backtest started", "run", run.ID(), "strategy", run.Strategy(), "symbols", len(cfg.Symbols))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.persist(run)
	}()
	return run, nil
}

// status returns a tracked run's status, falling back to the result store
// for runs from earlier server lifetimes.
func (s *Server) status(ctx context.Context, id string) (sa.RunStatus, error) {
	if run, err := s.runs.Get(id); err == nil {
		return runStatus(run), nil
	}
	if s.results != nil {
		rec, err := s.results.GetRun(ctx, id)
		if err == nil {
			return storedStatus(rec), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return sa.RunStatus{}, err
		}
	}
	return sa.RunStatus{}, fmt.Errorf("%s: %w", id, engine.ErrRunNotFound)
}

func (s *Server) listRuns(ctx context.Context) ([]sa.RunStatus, error) {
	runs := s.runs.List()
	out := make([]sa.RunStatus, 0, len(runs))
	seen := make(map[string]bool, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runStatus(runs[i]))
		seen[runs[i].ID()] = true
	}
	if s.results != nil {
		recs, err := s.results.ListRuns(ctx, 100)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			if !seen[recs[i].ID] {
				out = append(out, storedStatus(&recs[i]))
			}
		}
	}
	return out, nil
}

func (s *Server) cancel(id string) (sa.RunStatus, error) {
	if err := s.runs.Cancel(id); err != nil {
		return sa.RunStatus{}, err
	}
	run, err := s.runs.Get(id)
	if err != nil {
		return sa.RunStatus{}, err
	}
	return runStatus(run), nil
}

// purge forgets a finished run, both in memory and in the result store.
func (s *Server) purge(ctx context.Context, id string) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	found := false
	switch err := s.runs.Remove(id); {
	case err == nil:
		found = true
	case !errors.Is(err, engine.ErrRunNotFound):
		return err
	}
	if s.results != nil {
		switch err := s.results.DeleteRun(ctx, id); {
		case err == nil:
			found = true
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", id, engine.ErrRunNotFound)
	}
	s.log.Info("run purged", "run", id)
	return nil
}

func (s *Server) symbols(ctx context.Context, market string) ([]string, error) {
	if s.bars == nil {
		return nil, ErrNoBarStore
	}
	if market == "" {
		market = string(domain.MarketUS)
	}
	syms, err := s.bars.ListSymbols(ctx, strings.ToLower(market))
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	sort.Strings(syms)
	return syms, nil
}

// result returns the full result of a finished run. Live runs serve the
// engine result; persisted runs are rebuilt from the store.
func (s *Server) result(ctx context.Context, id string) (any, error) {
	if run, err := s.runs.Get(id); err == nil {
		res, ok := run.Result()
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, engine.ErrRunNotDone)
		}
		return res, nil
	}
	if s.results == nil {
		return nil, fmt.Errorf("%s: %w", id, engine.ErrRunNotFound)
	}
	rec, err := s.results.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, engine.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.storedResult(ctx, rec)
}

func (s *Server) storedResult(ctx context.Context, rec *store.RunRecord) (*sa.Result, error) {
	var res sa.Result
	if err := json.Unmarshal(rec.Summary, &res); err != nil {
		return nil, fmt.Errorf("decoding summary of %s: %w", rec.ID, err)
	}
	res.RunID = rec.ID

	equity, err := s.results.GetEquity(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	res.EquityCurve = make([]sa.EquityPoint, len(equity))
	for i, e := range equity {
		res.EquityCurve[i] = sa.EquityPoint{Date: e.Date, Value: e.TotalValue}
	}

	trades, err := s.results.GetTrades(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	res.Trades = make([]sa.Trade, len(trades))
	for i, t := range trades {
		res.Trades[i] = sa.Trade{
			OrderID:     t.OrderID,
			Symbol:      t.Symbol,
			Side:        string(t.Side),
			Qty:         t.Qty,
			Price:       t.Price,
			Commission:  t.Commission,
			RealizedPnL: t.RealizedPnL,
			Timestamp:   t.Timestamp,
		}
	}
	return &res, nil
}

// persist waits for run to finish and stores its result. Failed runs
// without a result are not stored.
func (s *Server) persist(run *engine.Run) {
	res, _ := run.Wait()
	if res == nil || (s.results == nil && s.exporter == nil) {
		return
	}
	log := s.log.With("run", run.ID())

	if s.exporter != nil {
		dir, err := s.exporter.ExportResult(res.RunID, res.Snapshots, res.Trades)
		if err != nil {
			log.Error("exporting result", "error", err)
		} else {
			log.Info("result exported", "dir", dir)
		}
	}
	if s.results != nil {
		rec, err := res.Record()
		if err != nil {
			log.Error("encoding result", "error", err)
			return
		}
		s.storeMu.Lock()
		defer s.storeMu.Unlock()
		if _, err := s.runs.Get(run.ID()); err != nil {
			log.Info("run purged before it was saved")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.results.SaveRun(ctx, rec); err != nil {
			log.Error("saving result", "error", err)
			return
		}
		log.Info("result saved", "state", rec.State)
	}
}

// buildConfig applies req on top of defaults.
func buildConfig(defaults engine.Config, req sa.BacktestRequest) (engine.Config, error) {
	cfg := defaults
	if req.Strategy == "" {
		return cfg, fmt.Errorf("%w: strategy is required", ErrBadRequest)
	}
	start, err := parseDate(req.Start)
	if err != nil {
		return cfg, fmt.Errorf("%w: start: %v", ErrBadRequest, err)
	}
	end, err := parseDate(req.End)
	if err != nil {
		return cfg, fmt.Errorf("%w: end: %v", ErrBadRequest, err)
	}
	cfg.Start, cfg.End = start, end
	cfg.Symbols = req.Symbols

	if req.Market != "" {
		cfg.Market = domain.Market(strings.ToLower(req.Market))
	}
	if req.Timeframe != "" {
		tf, err := gather.ParseTimeframe(req.Timeframe)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		cfg.Timeframe = tf
	}
	set(&cfg.WarmupDays, req.WarmupDays)
	set(&cfg.InitialCapital, req.InitialCapital)
	set(&cfg.CommissionRate, req.CommissionRate)
	set(&cfg.SlippageRate, req.SlippageRate)
	set(&cfg.BenchmarkSymbol, req.BenchmarkSymbol)
	set(&cfg.MaxPositionPct, req.MaxPositionPct)
	set(&cfg.MaxDailyLossPct, req.MaxDailyLossPct)
	set(&cfg.RiskPerTrade, req.RiskPerTrade)
	set(&cfg.ExecutionDelay, req.ExecutionDelay)
	set(&cfg.MarketImpact, req.MarketImpact)
	set(&cfg.AllowShort, req.AllowShort)
	set(&cfg.VolumeParticipation, req.VolumeParticipation)
	set(&cfg.RiskFreeRate, req.RiskFreeRate)
	return cfg, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("date required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func runStatus(run *engine.Run) sa.RunStatus {
	snap := run.Snapshot()
	return sa.RunStatus{
		ID:        run.ID(),
		Strategy:  run.Strategy(),
		State:     string(snap.State),
		Progress:  snap.Progress,
		Error:     snap.Error,
		CreatedAt: run.CreatedAt(),
	}
}

func snapshotStatus(snap engine.Snapshot) sa.RunStatus {
	return sa.RunStatus{
		ID:       snap.RunID,
		Strategy: snap.Strategy,
		State:    string(snap.State),
		Progress: snap.Progress,
		Error:    snap.Error,
	}
}

func storedStatus(rec *store.RunRecord) sa.RunStatus {
	st := sa.RunStatus{
		ID:        rec.ID,
		Strategy:  rec.Strategy,
		State:     rec.State,
		CreatedAt: rec.StartedAt,
	}
	if engine.State(rec.State) == engine.StateCompleted {
		st.Progress = 100
	}
	return st
}

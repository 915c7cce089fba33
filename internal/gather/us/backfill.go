package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/store"
)

var _ gather.Gatherer = (*Backfiller)(nil)

// BackfillConfig configures a Backfiller.
type BackfillConfig struct {
	Symbols    []string
	StartDate  string // YYYY-MM-DD
	BatchSize  int
	MaxWorkers int
	StateDir   string
	Sessions   SessionResolver
}

// Backfiller copies daily bars from a Provider into a BarStore so that
// backtests can run offline. A run is resumable: symbols already written
// for the current end date are skipped, and a finished end date is not
// fetched again.
type Backfiller struct {
	provider   gather.Provider
	store      store.BarStore
	symbols    []string
	startDate  string
	batchSize  int
	maxWorkers int
	stateDir   string
	sessions   SessionResolver
	now        func() time.Time
	log        *slog.Logger
}

func NewBackfiller(p gather.Provider, s store.BarStore, cfg BackfillConfig) *Backfiller {
	syms := make([]string, 0, len(cfg.Symbols))
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		syms = append(syms, sym)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = LocalSessions()
	}
	return &Backfiller{
		provider:   p,
		store:      s,
		symbols:    syms,
		startDate:  cfg.StartDate,
		batchSize:  max(cfg.BatchSize, 1),
		maxWorkers: max(cfg.MaxWorkers, 1),
		stateDir:   cfg.StateDir,
		sessions:   cfg.Sessions,
		now:        time.Now,
		log:        slog.Default().With("gatherer", "us-backfill"),
	}
}

func (g *Backfiller) Name() string { return "us-backfill" }

// Run fetches bars from the start date through the latest finished session
// and writes them to the store.
func (g *Backfiller) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}

	// 1. Determine end date from the trading calendar.
	endDate, err := g.sessions(g.now())
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endDateStr := endDate.Format("2006-01-02")
	if endDate.Before(start) {
		return fmt.Errorf("start date %s is after latest session %s", g.startDate, endDateStr)
	}

	// 2. Open the checkpoint.
	cp, err := openCheckpoint(g.stateDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer cp.Close()

	// 3. Idempotency.
	last := cp.Completed()
	if last == endDateStr {
		g.log.Info("already completed", "endDate", endDateStr)
		return nil
	}

	// 4. A previous end date finished: its per-symbol marks are stale.
	if last != "" {
		if err := cp.Reset(); err != nil {
			return fmt.Errorf("resetting checkpoint: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.symbols {
		if !cp.Done(sym) {
			remaining = append(remaining, sym)
		}
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.batchSize {
		batches = append(batches, remaining[i:min(i+g.batchSize, len(remaining))])
	}

	g.log.Info("starting backfill",
		"endDate", endDateStr,
		"total", len(g.symbols),
		"remaining", len(remaining),
		"batches", len(batches),
	)

	// 5. Feed batches to workers.
	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalHits atomic.Int64
		totalMiss atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)
	end := endDate.Add(24*time.Hour - time.Nanosecond)

	workers := min(g.maxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				batch := batches[batchIdx]
				hits, err := g.backfillBatch(ctx, cp, batch, start, end)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
						"err", err,
					)
					continue
				}
				totalHits.Add(int64(hits))
				totalMiss.Add(int64(len(batch) - hits))

				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
					"hits", hits,
					"empty", len(batch)-hits,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}

	// 6. Mark completed.
	if err := cp.Complete(endDateStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("complete",
		"hits", totalHits.Load(),
		"empty", totalMiss.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// backfillBatch fetches and stores one batch and returns how many of its
// symbols had bars.
func (g *Backfiller) backfillBatch(ctx context.Context, cp *checkpoint, batch []string, start, end time.Time) (int, error) {
	got, err := g.provider.GetBars(ctx, batch, start, end, gather.TimeframeDaily)
	if err != nil {
		return 0, err
	}

	hits := make(map[string]bool, len(got))
	var bars []domain.Bar
	for sym, sb := range got {
		if len(sb) == 0 {
			continue
		}
		hits[sym] = true
		bars = append(bars, sb...)
	}
	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, bars); err != nil {
			return 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if err := cp.Mark(batch, hits); err != nil {
		return 0, err
	}
	return len(hits), nil
}

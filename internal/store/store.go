// Package store defines storage interfaces for historical bars and completed
// backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/portfolio"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunRecord is the persisted form of a finished backtest.
type RunRecord struct {
	ID             string
	Strategy       string
	State          string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	FinalValue     float64
	Config         json.RawMessage
	Summary        json.RawMessage
	Warnings       []string
	StartedAt      time.Time
	FinishedAt     time.Time

	Trades []execution.TradeRecord
	Orders []domain.Order
	Equity []portfolio.Snapshot
}

// ResultStore persists completed backtest runs.
type ResultStore interface {
	// SaveRun inserts or replaces a run with its trades, orders and equity.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun loads a run header and summary. Trades, orders and equity are
	// not populated.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// GetTrades returns the trade records of a run in execution order.
	GetTrades(ctx context.Context, id string) ([]execution.TradeRecord, error)

	// GetEquity returns the snapshots of a run in date order.
	GetEquity(ctx context.Context, id string) ([]portfolio.Snapshot, error)

	// DeleteRun removes a run and its children.
	DeleteRun(ctx context.Context, id string) error
}

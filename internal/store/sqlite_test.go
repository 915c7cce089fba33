package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/portfolio"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestStore(t)
	// Verify the store is usable by pinging the database.
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func sampleRun(id string, started time.Time) *RunRecord {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &RunRecord{
		ID:             id,
		Strategy:       "sma-cross",
		State:          "completed",
		StartDate:      d,
		EndDate:        d.AddDate(0, 0, 1),
		InitialCapital: 100000,
		FinalValue:     100123.45,
		Config:         json.RawMessage(`{"symbols":["AAPL"]}`),
		Summary:        json.RawMessage(`{"total_return":0.0012345}`),
		Warnings:       []string{"2024-01-02: insufficient cash"},
		StartedAt:      started,
		FinishedAt:     started.Add(time.Second),
		Trades: []execution.TradeRecord{
			{OrderID: "ord-000001", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, MarketPrice: 100, Price: 100.1, Commission: 0.1001, Timestamp: d},
			{OrderID: "ord-000002", Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 10, MarketPrice: 112.5, Price: 112.3875, RealizedPnL: 122.875, Timestamp: d.AddDate(0, 0, 1)},
		},
		Orders: []domain.Order{
			{ID: "ord-000001", Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, TimeInForce: domain.TimeInForceDay,
				Status: domain.OrderStatusFilled, Qty: 10, FilledQty: 10, FilledAvgPrice: 100.1, CreatedAt: d},
		},
		Equity: []portfolio.Snapshot{
			{Date: d, TotalValue: 99999.9, Cash: 98998.9, PositionsValue: 1001, PositionCount: 1},
			{Date: d.AddDate(0, 0, 1), TotalValue: 100123.45, Cash: 100123.45},
		},
	}
}

func TestSQLiteStoreSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	// Saving again replaces rather than duplicating children.
	if err := s.SaveRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatalf("SaveRun (replace): %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "sma-cross" || got.FinalValue != 100123.45 || len(got.Warnings) != 1 {
		t.Errorf("GetRun = %+v", got)
	}
	if string(got.Summary) != `{"total_return":0.0012345}` {
		t.Errorf("Summary = %s", got.Summary)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}

	trades, err := s.GetTrades(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 2 || trades[1].RealizedPnL != 122.875 || trades[0].Side != domain.OrderSideBuy {
		t.Errorf("GetTrades = %+v", trades)
	}

	equity, err := s.GetEquity(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetEquity: %v", err)
	}
	if len(equity) != 2 || equity[0].PositionCount != 1 || equity[1].TotalValue != 100123.45 {
		t.Errorf("GetEquity = %+v", equity)
	}
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("ListRuns = %v", runs)
	}

	if err := s.DeleteRun(ctx, "run-c"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, "run-c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun after delete err = %v, want ErrNotFound", err)
	}
	if trades, _ := s.GetTrades(ctx, "run-c"); len(trades) != 0 {
		t.Errorf("trades not cascaded: %+v", trades)
	}
	if err := s.DeleteRun(ctx, "run-c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRun err = %v, want ErrNotFound", err)
	}
}

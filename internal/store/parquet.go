package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/portfolio"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk and exports
// backtest results in the same format.
type ParquetStore struct {
	DataDir string
	Market  string
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory. WriteBars targets the "us" market.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: string(domain.MarketUS)}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// EquityRecord is the Parquet schema for one equity curve point.
type EquityRecord struct {
	RunID          string  `parquet:"run_id"`
	Date           int64   `parquet:"date,timestamp(millisecond)"`
	TotalValue     float64 `parquet:"total_value"`
	Cash           float64 `parquet:"cash"`
	PositionsValue float64 `parquet:"positions_value"`
	PositionCount  int64   `parquet:"position_count"`
	RealizedPnL    float64 `parquet:"realized_pnl"`
	UnrealizedPnL  float64 `parquet:"unrealized_pnl"`
}

// TradeRecord is the Parquet schema for one executed trade of a run.
type TradeRecord struct {
	RunID       string  `parquet:"run_id"`
	OrderID     string  `parquet:"order_id"`
	Symbol      string  `parquet:"symbol"`
	Side        string  `parquet:"side"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"`
	Qty         float64 `parquet:"qty"`
	MarketPrice float64 `parquet:"market_price"`
	Price       float64 `parquet:"price"`
	Commission  float64 `parquet:"commission"`
	Slippage    float64 `parquet:"slippage"`
	Impact      float64 `parquet:"impact"`
	RealizedPnL float64 `parquet:"realized_pnl"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year
// under the store's market. Each symbol+year combination produces a
// separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(ctx context.Context, bars []domain.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.WriteBarsForMarket(bars, s.Market)
}

// WriteBarsForMarket writes bars to Parquet grouped by symbol and year under
// the given market directory, merging with existing files.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	if len(bars) == 0 {
		return nil
	}
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		k := key{symbol: strings.ToUpper(b.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  ts.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. Missing year files are skipped.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			b := r.bar()
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				bars = append(bars, b)
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Result export
// ---------------------------------------------------------------------------

// ExportResult writes the equity curve and trades of a run to
// <DataDir>/backtests/<runID>/{equity,trades}.parquet and returns the
// directory.
func (s *ParquetStore) ExportResult(runID string, equity []portfolio.Snapshot, trades []execution.TradeRecord) (string, error) {
	dir := s.resultDir(runID)

	eq := make([]EquityRecord, len(equity))
	for i, e := range equity {
		eq[i] = EquityRecord{
			RunID:          runID,
			Date:           e.Date.UnixMilli(),
			TotalValue:     e.TotalValue,
			Cash:           e.Cash,
			PositionsValue: e.PositionsValue,
			PositionCount:  int64(e.PositionCount),
			RealizedPnL:    e.RealizedPnL,
			UnrealizedPnL:  e.UnrealizedPnL,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "equity.parquet"), eq); err != nil {
		return "", fmt.Errorf("writing equity for %s: %w", runID, err)
	}

	tr := make([]TradeRecord, len(trades))
	for i, t := range trades {
		tr[i] = TradeRecord{
			RunID:       runID,
			OrderID:     t.OrderID,
			Symbol:      t.Symbol,
			Side:        string(t.Side),
			Timestamp:   t.Timestamp.UnixMilli(),
			Qty:         t.Qty,
			MarketPrice: t.MarketPrice,
			Price:       t.Price,
			Commission:  t.Commission,
			Slippage:    t.Slippage,
			Impact:      t.Impact,
			RealizedPnL: t.RealizedPnL,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "trades.parquet"), tr); err != nil {
		return "", fmt.Errorf("writing trades for %s: %w", runID, err)
	}
	return dir, nil
}

// ReadEquity loads an exported equity curve.
func (s *ParquetStore) ReadEquity(runID string) ([]portfolio.Snapshot, error) {
	records, err := readParquetFile[EquityRecord](filepath.Join(s.resultDir(runID), "equity.parquet"))
	if err != nil {
		return nil, err
	}
	out := make([]portfolio.Snapshot, len(records))
	for i, r := range records {
		out[i] = portfolio.Snapshot{
			Date:           time.UnixMilli(r.Date).UTC(),
			TotalValue:     r.TotalValue,
			Cash:           r.Cash,
			PositionsValue: r.PositionsValue,
			PositionCount:  int(r.PositionCount),
			RealizedPnL:    r.RealizedPnL,
			UnrealizedPnL:  r.UnrealizedPnL,
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// resultDir returns the export directory of a run.
// Layout: <dataDir>/backtests/<runID>
func (s *ParquetStore) resultDir(runID string) string {
	return filepath.Join(s.DataDir, "backtests", runID)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// Package clickhouse serves and stores bars in a ClickHouse table so that
// large shared data sets can back many backtests without local files.
package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/store"
)

var (
	_ gather.Provider = (*Store)(nil)
	_ store.BarStore  = (*Store)(nil)
)

// Options locate the bar table.
type Options struct {
	Addr     string
	Database string
	Table    string
	Username string
	Password string
	Market   domain.Market
}

// Store reads and writes bars in <database>.<table>. The table is keyed by
// (market, timeframe, symbol, ts) and deduplicated by ReplacingMergeTree.
type Store struct {
	conn   driver.Conn
	table  string
	market string
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{opts.Addr},
		Auth: ch.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: ch.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return New(conn, opts), nil
}

// New wraps an existing connection.
func New(conn driver.Conn, opts Options) *Store {
	db, table := opts.Database, opts.Table
	if db == "" {
		db = "default"
	}
	if table == "" {
		table = "bars"
	}
	market := opts.Market
	if market == "" {
		market = domain.MarketUS
	}
	return &Store{conn: conn, table: db + "." + table, market: string(market)}
}

func (s *Store) Close() error { return s.conn.Close() }

// EnsureSchema creates the bar table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			market LowCardinality(String),
			timeframe LowCardinality(String),
			symbol String,
			ts DateTime64(3, 'UTC'),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Int64,
			trade_count Int64,
			vwap Float64,
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (market, timeframe, symbol, ts)`, s.table)
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", s.table, err)
	}
	return nil
}

const selectColumns = "symbol, ts, open, high, low, close, volume, trade_count, vwap"

func (s *Store) barsQuery() string {
	return fmt.Sprintf(`SELECT %s FROM %s FINAL
		WHERE market = ? AND timeframe = ? AND symbol IN (?) AND ts BETWEEN ? AND ?
		ORDER BY symbol, ts`, selectColumns, s.table)
}

// GetBars implements gather.Provider.
func (s *Store) GetBars(ctx context.Context, symbols []string, start, end time.Time, tf gather.Timeframe) (map[string][]domain.Bar, error) {
	if tf == "" {
		tf = gather.TimeframeDaily
	}
	if len(symbols) == 0 {
		return map[string][]domain.Bar{}, nil
	}
	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(sym)
	}

	rows, err := s.conn.Query(ctx, s.barsQuery(), s.market, string(tf), upper, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying bars: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Bar)
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, fmt.Errorf("scanning bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		out[b.Symbol] = append(out[b.Symbol], b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bars: %w", err)
	}
	for _, bars := range out {
		gather.SortBars(bars)
	}
	return out, nil
}

// WriteBars appends daily bars in one batch. Rewritten rows replace older
// versions on merge.
func (s *Store) WriteBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	version := uint64(time.Now().UnixNano())
	for _, b := range bars {
		if err := batch.Append(
			s.market, string(gather.TimeframeDaily),
			strings.ToUpper(b.Symbol), b.Timestamp.UTC(),
			b.Open, b.High, b.Low, b.Close,
			b.Volume, b.TradeCount, b.VWAP,
			version,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	return nil
}

// ReadBars implements store.BarStore for daily bars.
func (s *Store) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.conn.Query(ctx, s.barsQuery(), market, string(gather.TimeframeDaily), []string{strings.ToUpper(symbol)}, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, fmt.Errorf("scanning bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols implements store.BarStore.
func (s *Store) ListSymbols(ctx context.Context, market string) ([]string, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT DISTINCT symbol FROM %s WHERE market = ? ORDER BY symbol", s.table), market)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

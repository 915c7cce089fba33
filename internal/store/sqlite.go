package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/portfolio"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database. Money
// columns are stored as decimal text.
type SQLiteStore struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		strategy        TEXT NOT NULL,
		state           TEXT NOT NULL,
		start_date      TEXT NOT NULL,
		end_date        TEXT NOT NULL,
		initial_capital TEXT NOT NULL,
		final_value     TEXT NOT NULL,
		config          TEXT,
		summary         TEXT,
		warnings        TEXT,
		started_at      TEXT NOT NULL,
		finished_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_trades (
		run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		order_id     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		ts           TEXT NOT NULL,
		qty          TEXT NOT NULL,
		market_price TEXT NOT NULL,
		price        TEXT NOT NULL,
		commission   TEXT NOT NULL,
		slippage     TEXT NOT NULL,
		impact       TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS run_orders (
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		id            TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		side          TEXT NOT NULL,
		type          TEXT NOT NULL,
		time_in_force TEXT NOT NULL,
		status        TEXT NOT NULL,
		qty           TEXT NOT NULL,
		filled_qty    TEXT NOT NULL,
		avg_price     TEXT NOT NULL,
		reason        TEXT,
		created_at    TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS run_equity (
		run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		date            TEXT NOT NULL,
		total_value     TEXT NOT NULL,
		cash            TEXT NOT NULL,
		positions_value TEXT NOT NULL,
		position_count  INTEGER NOT NULL,
		realized_pnl    TEXT NOT NULL,
		unrealized_pnl  TEXT NOT NULL,
		PRIMARY KEY (run_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore with the schema applied.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps writes serialised and pragmas effective.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a run in a single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (err error) {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("replacing run %s: %w", run.ID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, strategy, state, start_date, end_date, initial_capital, final_value, config, summary, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.State, fmtTime(run.StartDate), fmtTime(run.EndDate),
		money(run.InitialCapital), money(run.FinalValue), string(run.Config), string(run.Summary),
		string(warnings), fmtTime(run.StartedAt), fmtTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for i, t := range run.Trades {
		_, err = tx.ExecContext(ctx, `INSERT INTO run_trades
			(run_id, seq, order_id, symbol, side, ts, qty, market_price, price, commission, slippage, impact, realized_pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i+1, t.OrderID, t.Symbol, string(t.Side), fmtTime(t.Timestamp), money(t.Qty),
			money(t.MarketPrice), money(t.Price), money(t.Commission), money(t.Slippage), money(t.Impact), money(t.RealizedPnL))
		if err != nil {
			return fmt.Errorf("inserting trade %d of %s: %w", i+1, run.ID, err)
		}
	}
	for _, o := range run.Orders {
		_, err = tx.ExecContext(ctx, `INSERT INTO run_orders
			(run_id, id, symbol, side, type, time_in_force, status, qty, filled_qty, avg_price, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, o.ID, o.Symbol, string(o.Side), string(o.Type), string(o.TimeInForce), string(o.Status),
			money(o.Qty), money(o.FilledQty), money(o.FilledAvgPrice), o.RejectReason, fmtTime(o.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting order %s of %s: %w", o.ID, run.ID, err)
		}
	}
	for _, e := range run.Equity {
		_, err = tx.ExecContext(ctx, `INSERT INTO run_equity
			(run_id, date, total_value, cash, positions_value, position_count, realized_pnl, unrealized_pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, fmtTime(e.Date), money(e.TotalValue), money(e.Cash), money(e.PositionsValue),
			e.PositionCount, money(e.RealizedPnL), money(e.UnrealizedPnL))
		if err != nil {
			return fmt.Errorf("inserting equity of %s: %w", run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, strategy, state, start_date, end_date, initial_capital, final_value, config, summary, warnings, started_at, finished_at`

// GetRun retrieves a run header by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs ordered by start time, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetTrades returns the trades of a run in execution order.
func (s *SQLiteStore) GetTrades(ctx context.Context, id string) ([]execution.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT order_id, symbol, side, ts, qty, market_price, price, commission, slippage, impact, realized_pnl
		FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []execution.TradeRecord
	for rows.Next() {
		var t execution.TradeRecord
		var side, ts, qty, mkt, price, commission, slippage, impact, pnl string
		if err := rows.Scan(&t.OrderID, &t.Symbol, &side, &ts, &qty, &mkt, &price, &commission, &slippage, &impact, &pnl); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		t.Timestamp = parseTime(ts)
		t.Qty, t.MarketPrice, t.Price = parseMoney(qty), parseMoney(mkt), parseMoney(price)
		t.Commission, t.Slippage, t.Impact, t.RealizedPnL = parseMoney(commission), parseMoney(slippage), parseMoney(impact), parseMoney(pnl)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetEquity returns the snapshots of a run ordered by date.
func (s *SQLiteStore) GetEquity(ctx context.Context, id string) ([]portfolio.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, total_value, cash, positions_value, position_count, realized_pnl, unrealized_pnl
		FROM run_equity WHERE run_id = ? ORDER BY date`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []portfolio.Snapshot
	for rows.Next() {
		var snap portfolio.Snapshot
		var date, total, cash, posValue, real, unreal string
		if err := rows.Scan(&date, &total, &cash, &posValue, &snap.PositionCount, &real, &unreal); err != nil {
			return nil, err
		}
		snap.Date = parseTime(date)
		snap.TotalValue, snap.Cash, snap.PositionsValue = parseMoney(total), parseMoney(cash), parseMoney(posValue)
		snap.RealizedPnL, snap.UnrealizedPnL = parseMoney(real), parseMoney(unreal)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteRun removes a run; child rows cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		r                          RunRecord
		start, end, initial, final string
		startedAt, finishedAt      string
		config, summary, warnings  sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Strategy, &r.State, &start, &end, &initial, &final,
		&config, &summary, &warnings, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.StartDate, r.EndDate = parseTime(start), parseTime(end)
	r.InitialCapital, r.FinalValue = parseMoney(initial), parseMoney(final)
	r.StartedAt, r.FinishedAt = parseTime(startedAt), parseTime(finishedAt)
	if config.Valid && config.String != "" {
		r.Config = json.RawMessage(config.String)
	}
	if summary.Valid && summary.String != "" {
		r.Summary = json.RawMessage(summary.String)
	}
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &r.Warnings); err != nil {
			return nil, fmt.Errorf("decoding warnings of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).String()
}

func parseMoney(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
)

var d0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// fakeRows serves canned bars; unused driver.Rows methods panic.
type fakeRows struct {
	driver.Rows
	bars   []domain.Bar
	i      int
	closed bool
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.bars)
}

func (r *fakeRows) Scan(dest ...any) error {
	b := r.bars[r.i-1]
	if len(dest) != 9 {
		return errors.New("unexpected column count")
	}
	*dest[0].(*string) = b.Symbol
	*dest[1].(*time.Time) = b.Timestamp
	*dest[2].(*float64) = b.Open
	*dest[3].(*float64) = b.High
	*dest[4].(*float64) = b.Low
	*dest[5].(*float64) = b.Close
	*dest[6].(*int64) = b.Volume
	*dest[7].(*int64) = b.TradeCount
	*dest[8].(*float64) = b.VWAP
	return nil
}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

type fakeConn struct {
	driver.Conn
	rows  *fakeRows
	err   error
	query string
	args  []any
	execs []string
}

func (c *fakeConn) Query(_ context.Context, query string, args ...any) (driver.Rows, error) {
	c.query, c.args = query, args
	if c.err != nil {
		return nil, c.err
	}
	return c.rows, nil
}

func (c *fakeConn) Exec(_ context.Context, query string, _ ...any) error {
	c.execs = append(c.execs, query)
	return c.err
}

func TestGetBars(t *testing.T) {
	conn := &fakeConn{rows: &fakeRows{bars: []domain.Bar{
		{Symbol: "AAPL", Timestamp: d0.AddDate(0, 0, 1), Close: 186},
		{Symbol: "AAPL", Timestamp: d0, Close: 185, Volume: 1000},
		{Symbol: "MSFT", Timestamp: d0, Close: 370},
	}}}
	s := New(conn, Options{Database: "market", Table: "daily"})

	got, err := s.GetBars(context.Background(), []string{"aapl", "msft"}, d0, d0.AddDate(0, 0, 5), "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conn.query, "FROM market.daily FINAL") || !strings.Contains(conn.query, "symbol IN (?)") {
		t.Errorf("query = %s", conn.query)
	}
	if conn.args[0] != "us" || conn.args[1] != "1d" {
		t.Errorf("args = %v, want market us and timeframe 1d", conn.args[:2])
	}
	if syms := conn.args[2].([]string); len(syms) != 2 || syms[0] != "AAPL" {
		t.Errorf("symbols arg = %v", syms)
	}
	if !conn.rows.closed {
		t.Error("rows not closed")
	}

	aapl := got["AAPL"]
	if len(aapl) != 2 || aapl[0].Close != 185 || aapl[1].Close != 186 {
		t.Errorf("AAPL = %+v, want sorted ascending", aapl)
	}
	if aapl[0].Volume != 1000 {
		t.Errorf("Volume = %d, want 1000", aapl[0].Volume)
	}
	if len(got["MSFT"]) != 1 {
		t.Errorf("MSFT = %+v", got["MSFT"])
	}
}

func TestGetBarsHourlyAndEmpty(t *testing.T) {
	conn := &fakeConn{rows: &fakeRows{}}
	s := New(conn, Options{Market: domain.MarketCN})

	got, err := s.GetBars(context.Background(), nil, d0, d0, gather.TimeframeDaily)
	if err != nil || len(got) != 0 {
		t.Fatalf("GetBars(nil) = %v, %v", got, err)
	}
	if conn.query != "" {
		t.Error("no query expected for an empty symbol list")
	}

	if _, err := s.GetBars(context.Background(), []string{"600000"}, d0, d0, gather.TimeframeHourly); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conn.query, "FROM default.bars FINAL") {
		t.Errorf("query = %s", conn.query)
	}
	if conn.args[0] != "cn" || conn.args[1] != "1h" {
		t.Errorf("args = %v", conn.args[:2])
	}
}

func TestGetBarsQueryError(t *testing.T) {
	s := New(&fakeConn{err: errors.New("connection refused")}, Options{})
	if _, err := s.GetBars(context.Background(), []string{"AAPL"}, d0, d0, ""); err == nil {
		t.Error("expected query error")
	}
}

func TestEnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, Options{Database: "market", Table: "daily"})
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(conn.execs) != 1 || !strings.Contains(conn.execs[0], "CREATE TABLE IF NOT EXISTS market.daily") {
		t.Errorf("execs = %v", conn.execs)
	}
	if !strings.Contains(conn.execs[0], "ReplacingMergeTree(version)") {
		t.Error("table should deduplicate by version")
	}
}

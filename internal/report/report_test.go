package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"stockanalyzer/internal/engine"
	"stockanalyzer/internal/stats"
	"stockanalyzer/internal/strategy"
	sa "stockanalyzer/pkg/stockanalyzer"
)

func TestFormatInt(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-98765, "-98,765"},
	}
	for _, tt := range tests {
		if got := FormatInt(tt.n); got != tt.want {
			t.Errorf("FormatInt(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, "0.00"},
		{100000, "100,000.00"},
		{1234.565, "1,234.57"},
		{-52.1, "-52.10"},
		{-0.001, "0.00"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.v); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	tests := []struct {
		f    float64
		want string
	}{
		{0, "0.0%"},
		{0.1234, "+12.3%"},
		{-0.05, "-5.0%"},
		{1.5, "+150%"},
	}
	for _, tt := range tests {
		if got := FormatPct(tt.f); got != tt.want {
			t.Errorf("FormatPct(%v) = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestFormatCompactAndQty(t *testing.T) {
	if got := FormatCompact(2_500_000); got != "2.5M" {
		t.Errorf("FormatCompact = %q, want 2.5M", got)
	}
	if got := FormatCompact(-1500); got != "-1.5K" {
		t.Errorf("FormatCompact = %q, want -1.5K", got)
	}
	if got := FormatQty(1200); got != "1,200" {
		t.Errorf("FormatQty = %q, want 1,200", got)
	}
	if got := FormatQty(0.5); got != "0.5000" {
		t.Errorf("FormatQty = %q, want 0.5000", got)
	}
	if got := FormatPrice(0); got != "-" {
		t.Errorf("FormatPrice(0) = %q, want -", got)
	}
}

func sampleResult() *sa.Result {
	res := &sa.Result{
		RunID:    "run-1",
		Strategy: "sma-cross",
		State:    "completed",
		Benchmark: &sa.Benchmark{
			Symbol: "SPY",
			Return: 0.08,
			Beta:   0.9,
		},
		Trades: []sa.Trade{
			{Symbol: "AAPL", Side: "buy", Qty: 100, Price: 185.5, Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
			{Symbol: "AAPL", Side: "sell", Qty: 100, Price: 190, RealizedPnL: 450, Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
		Warnings: []sa.Warning{
			{Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Message: "no bar for MSFT"},
		},
	}
	res.Summary.Periods = 40
	res.Summary.InitialValue = 100000
	res.Summary.FinalValue = 112345.67
	res.Summary.TotalReturn = 0.1234567
	res.Summary.MaxDrawdown = 0.042
	res.Summary.Trades.Total = 2
	res.Summary.Trades.Wins = 1
	return res
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf).Summary(sampleResult())

	for _, want := range []string{
		"sma-cross", "run-1", "COMPLETED",
		"112,345.67", "+12.3%", "-4.2%",
		"Benchmark SPY", "+8.0%", "0.90",
		"Warnings (1)", "2024-01-15", "no bar for MSFT",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSummaryWithoutBenchmark(t *testing.T) {
	res := sampleResult()
	res.Benchmark = nil
	res.Warnings = nil
	out := New(&bytes.Buffer{}).Summary(res)
	if strings.Contains(out, "Benchmark") || strings.Contains(out, "Warnings") {
		t.Errorf("unexpected sections:\n%s", out)
	}
}

func TestTradesLimit(t *testing.T) {
	out := New(&bytes.Buffer{}).Trades(sampleResult().Trades, 1)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "2024-02-01") || !strings.Contains(lines[1], "450.00") {
		t.Errorf("last trade line = %q", lines[1])
	}
}

func TestSweepOrdersByReturn(t *testing.T) {
	mk := func(ret float64) *engine.Result {
		return &engine.Result{Summary: stats.Summary{TotalReturn: ret}}
	}
	rows := []engine.SweepResult{
		{Params: strategy.Params{"fast": 5}, Result: mk(0.01)},
		{Params: strategy.Params{"fast": 10}, Err: errors.New("boom")},
		{Params: strategy.Params{"fast": 20}, Result: mk(0.2)},
	}
	out := New(&bytes.Buffer{}).Sweep(rows)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "fast=20") || !strings.HasPrefix(lines[2], "fast=5") {
		t.Errorf("order wrong:\n%s", out)
	}
	if !strings.Contains(lines[3], "boom") {
		t.Errorf("failed row = %q", lines[3])
	}
	if rows[0].Params["fast"] != 5 {
		t.Error("Sweep reordered its input")
	}
}

func TestFromEngine(t *testing.T) {
	res := &engine.Result{
		RunID:    "r",
		Strategy: "buy-and-hold",
		State:    engine.StateCompleted,
		Summary:  stats.Summary{FinalValue: 101000, TotalReturn: 0.01},
	}
	out, err := FromEngine(res)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != "completed" || out.Summary.FinalValue != 101000 {
		t.Errorf("FromEngine = %+v", out)
	}
}

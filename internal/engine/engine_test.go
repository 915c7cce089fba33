package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/strategy"
)

var d0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// series builds one flat bar per consecutive day starting at d0.
func series(sym string, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    sym,
			Timestamp: d0.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return bars
}

type funcStrategy struct {
	name string
	gen  func(sc *strategy.Context) ([]domain.Signal, error)
}

func (f *funcStrategy) Name() string { return f.name }
func (f *funcStrategy) Initialize(context.Context, []string, time.Time, time.Time) error {
	return nil
}
func (f *funcStrategy) ShouldRebalance(time.Time) bool { return true }
func (f *funcStrategy) GenerateSignals(_ context.Context, sc *strategy.Context) ([]domain.Signal, error) {
	return f.gen(sc)
}

func qty(v float64) *float64 { return &v }

// buyOnce buys n shares of sym on the first date and sells the whole
// position on date index sellAt (negative: never).
func buyOnce(sym string, n float64, sellAt int) *funcStrategy {
	return &funcStrategy{name: "buy-once", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
		switch len(sc.History(sym)) - 1 {
		case 0:
			return []domain.Signal{{Symbol: sym, Type: domain.SignalTypeBuy, Strength: 1, Qty: qty(n)}}, nil
		case sellAt:
			return []domain.Signal{{Symbol: sym, Type: domain.SignalTypeSell, Strength: 1}}, nil
		}
		return nil, nil
	}}
}

func testConfig(symbols ...string) Config {
	return Config{
		Start:          d0,
		End:            d0.AddDate(0, 0, 30),
		InitialCapital: 100000,
		Symbols:        symbols,
	}
}

func TestRunBuyAndHold(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102, 103, 104),
	}))

	var calls []float64
	res, err := eng.Run(context.Background(), testConfig("AAPL"), buyOnce("AAPL", 10, -1), func(pct float64) {
		calls = append(calls, pct)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCompleted {
		t.Errorf("State = %s, want completed", res.State)
	}
	if len(calls) != 5 || calls[4] != 100 {
		t.Errorf("progress calls = %v", calls)
	}
	if len(res.EquityCurve) != 5 {
		t.Fatalf("equity points = %d, want 5", len(res.EquityCurve))
	}
	if got := res.Summary.FinalValue; got != 100040 {
		t.Errorf("FinalValue = %v, want 100040", got)
	}
	if len(res.Trades) != 1 || res.Trades[0].Price != 100 {
		t.Errorf("trades = %+v", res.Trades)
	}
	if len(res.Positions) != 1 || res.Positions[0].Qty != 10 {
		t.Errorf("positions = %+v", res.Positions)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %+v", res.Warnings)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRunSellClosesPosition(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102, 103),
	}))
	res, err := eng.Run(context.Background(), testConfig("AAPL"), buyOnce("AAPL", 10, 2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Positions) != 0 {
		t.Errorf("positions = %+v, want flat", res.Positions)
	}
	if res.Summary.RealizedPnL != 20 {
		t.Errorf("RealizedPnL = %v, want 20", res.Summary.RealizedPnL)
	}
	ts := res.Summary.Trades
	if ts.Total != 2 || ts.Closing != 1 || ts.Wins != 1 {
		t.Errorf("trade stats = %+v", ts)
	}
}

func TestRunExecutionDelay(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 110, 120),
	}))
	cfg := testConfig("AAPL")
	cfg.ExecutionDelay = 1
	res, err := eng.Run(context.Background(), cfg, buyOnce("AAPL", 10, -1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if got := res.Trades[0]; got.Price != 110 || !got.Timestamp.Equal(d0.AddDate(0, 0, 1)) {
		t.Errorf("trade = %+v, want fill at 110 on the next date", got)
	}
	if res.Orders[0].TimeInForce != domain.TimeInForceGTC {
		t.Errorf("TimeInForce = %s, want gtc", res.Orders[0].TimeInForce)
	}
}

func TestRunDefaultSizingRespectsRisk(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 100),
	}))
	strat := &funcStrategy{name: "strong", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
		if len(sc.History("AAPL")) > 1 {
			return nil, nil
		}
		return []domain.Signal{{Symbol: "AAPL", Type: domain.SignalTypeBuy, Strength: 0.5}}, nil
	}}
	res, err := eng.Run(context.Background(), testConfig("AAPL"), strat, nil)
	if err != nil {
		t.Fatal(err)
	}
	// 0.5 * 0.1 * 100000 / 100
	if len(res.Trades) != 1 || res.Trades[0].Qty != 50 {
		t.Errorf("trades = %+v, want one trade of 50", res.Trades)
	}
	if len(res.Signals) != 1 || res.Signals[0].OrderID == "" || res.Signals[0].Signal.ID != 1 {
		t.Errorf("signals = %+v", res.Signals)
	}
}

func TestRunClampsOversizedBuy(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 100),
	}))
	cfg := testConfig("AAPL")
	cfg.InitialCapital = 1000
	cfg.MaxPositionPct = 1
	res, err := eng.Run(context.Background(), cfg, buyOnce("AAPL", 50, -1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Qty != 10 {
		t.Errorf("trades = %+v, want 10 shares", res.Trades)
	}
	if cash := res.Snapshots[len(res.Snapshots)-1].Cash; cash < 0 {
		t.Errorf("cash = %v, want non-negative", cash)
	}
}

func TestRunClampCoversCompoundedCosts(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 1, 1),
	}))
	cfg := testConfig("AAPL")
	cfg.MaxPositionPct = 1
	cfg.CommissionRate = 0.01
	cfg.SlippageRate = 0.01
	strat := &funcStrategy{name: "all-in", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
		if len(sc.History("AAPL")) > 1 {
			return nil, nil
		}
		return []domain.Signal{{Symbol: "AAPL", Type: domain.SignalTypeBuy, Strength: 1}}, nil
	}}
	res, err := eng.Run(context.Background(), cfg, strat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Qty != 98029 {
		t.Fatalf("trades = %+v, want one trade of 98029", res.Trades)
	}
	for _, o := range res.Orders {
		if o.Status == domain.OrderStatusRejected {
			t.Errorf("order %s rejected: %s", o.ID, o.RejectReason)
		}
	}
	if cash := res.Snapshots[len(res.Snapshots)-1].Cash; cash < 0 {
		t.Errorf("cash = %v, want non-negative", cash)
	}
}

func TestRunStrategyErrorsBecomeWarnings(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102),
	}))
	call := 0
	strat := &funcStrategy{name: "flaky", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
		call++
		switch call {
		case 1:
			return nil, errors.New("model unavailable")
		case 2:
			panic("index out of range")
		}
		return nil, nil
	}}
	res, err := eng.Run(context.Background(), testConfig("AAPL"), strat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateCompleted {
		t.Errorf("State = %s, want completed", res.State)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %+v, want 2", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0].Message, "model unavailable") || !res.Warnings[0].Date.Equal(d0) {
		t.Errorf("warning[0] = %+v", res.Warnings[0])
	}
	if !strings.Contains(res.Warnings[1].Message, "panic") {
		t.Errorf("warning[1] = %+v", res.Warnings[1])
	}
	// The panicking date is skipped; the other two are recorded.
	if len(res.Snapshots) != 2 {
		t.Errorf("snapshots = %d, want 2", len(res.Snapshots))
	}
}

func TestRunCancelledKeepsPartialResult(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102, 103, 104),
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := eng.Run(ctx, testConfig("AAPL"), buyOnce("AAPL", 10, -1), func(pct float64) {
		if pct >= 40 {
			cancel()
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", res.State)
	}
	if len(res.Snapshots) != 2 {
		t.Errorf("snapshots = %d, want 2", len(res.Snapshots))
	}
}

func TestRunInvalidConfig(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(nil))
	cfg := testConfig("AAPL")
	cfg.End = cfg.Start.AddDate(0, 0, -1)
	res, err := eng.Run(context.Background(), cfg, buyOnce("AAPL", 1, -1), nil)
	if !errors.Is(err, ErrInvalidConfig) || res != nil {
		t.Errorf("Run = %v, %v, want nil result and ErrInvalidConfig", res, err)
	}
	if _, err := eng.Start(context.Background(), cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Start err = %v, want ErrInvalidConfig", err)
	}
}

type failingProvider struct{}

func (failingProvider) GetBars(context.Context, []string, time.Time, time.Time, gather.Timeframe) (map[string][]domain.Bar, error) {
	return nil, errors.New("connection refused")
}

func TestRunProviderFailure(t *testing.T) {
	eng := NewEngine(failingProvider{})
	res, err := eng.Run(context.Background(), testConfig("AAPL"), buyOnce("AAPL", 1, -1), nil)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v", err)
	}
	if res == nil || res.State != StateFailed || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunMissingSymbolWarns(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101),
	}))
	res, err := eng.Run(context.Background(), testConfig("AAPL", "MSFT"), buyOnce("MSFT", 1, -1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Message != "no data for MSFT" {
		t.Errorf("warnings = %+v", res.Warnings)
	}
	if len(res.Trades) != 0 {
		t.Errorf("trades = %+v, want none", res.Trades)
	}
}

func TestRunWarmupHistory(t *testing.T) {
	bars := series("AAPL", 90, 95, 100, 101)
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{"AAPL": bars}))
	cfg := testConfig("AAPL")
	cfg.Start = d0.AddDate(0, 0, 2)
	cfg.WarmupDays = 5

	var seen []int
	strat := &funcStrategy{name: "probe", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
		seen = append(seen, len(sc.History("AAPL")))
		return nil, nil
	}}
	res, err := eng.Run(context.Background(), cfg, strat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.EquityCurve) != 2 {
		t.Errorf("equity points = %d, want 2", len(res.EquityCurve))
	}
	if len(seen) != 2 || seen[0] != 3 || seen[1] != 4 {
		t.Errorf("history lengths = %v, want [3 4]", seen)
	}
}

func TestRunBenchmark(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102),
		"SPY":  series("SPY", 400, 404, 408),
	}))
	cfg := testConfig("AAPL")
	cfg.BenchmarkSymbol = "spy"
	res, err := eng.Run(context.Background(), cfg, buyOnce("AAPL", 10, -1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Benchmark == nil {
		t.Fatal("benchmark missing")
	}
	if res.Benchmark.Symbol != "SPY" || res.Benchmark.Return != 0.02 {
		t.Errorf("benchmark = %+v", res.Benchmark)
	}
	if len(res.EquityCurve) != 3 {
		t.Errorf("benchmark-only dates must not be simulated: %d points", len(res.EquityCurve))
	}
}

func TestRunDeterministicSummary(t *testing.T) {
	data := map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 103, 99, 104, 108, 101),
		"MSFT": series("MSFT", 300, 296, 305, 310, 302, 311),
	}
	cfg := testConfig("AAPL", "MSFT")
	cfg.CommissionRate = 0.001
	cfg.SlippageRate = 0.0005
	cfg.MarketImpact = true

	run := func() []byte {
		eng := NewEngine(gather.NewMemoryProvider(data))
		alt := &funcStrategy{name: "alternate", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
			typ := domain.SignalTypeBuy
			if len(sc.History("AAPL"))%2 == 0 {
				typ = domain.SignalTypeSell
			}
			return []domain.Signal{
				{Symbol: "AAPL", Type: typ, Strength: 1},
				{Symbol: "MSFT", Type: typ, Strength: 0.5},
			}, nil
		}}
		res, err := eng.Run(context.Background(), cfg, alt, nil)
		if err != nil {
			t.Fatal(err)
		}
		b, err := res.SummaryJSON()
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Errorf("summaries differ:\n%s\n%s", a, b)
	}
}

func TestStartHandle(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102),
	}))
	run, err := eng.Start(context.Background(), testConfig("AAPL"), buyOnce("AAPL", 10, -1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID() == "" || run.Strategy() != "buy-once" {
		t.Errorf("run = %s/%s", run.ID(), run.Strategy())
	}
	res, err := run.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if run.State() != StateCompleted || run.Progress() != 100 {
		t.Errorf("state = %s progress = %v", run.State(), run.Progress())
	}
	if got, ok := run.Result(); !ok || got != res {
		t.Error("Result() should return the finished result")
	}
	if res.RunID != run.ID() {
		t.Errorf("RunID = %s, want %s", res.RunID, run.ID())
	}
}

func TestStartCancel(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102, 103),
	}))
	release := make(chan struct{})
	strat := &funcStrategy{name: "slow", gen: func(sc *strategy.Context) ([]domain.Signal, error) {
		<-release
		return nil, nil
	}}
	run, err := eng.Start(context.Background(), testConfig("AAPL"), strat, nil)
	if err != nil {
		t.Fatal(err)
	}
	run.Cancel()
	close(release)
	res, _ := run.Wait()
	if res.State != StateCancelled || run.State() != StateCancelled {
		t.Errorf("state = %s/%s, want cancelled", res.State, run.State())
	}
	if len(res.Snapshots) > 1 {
		t.Errorf("snapshots = %d, want at most 1", len(res.Snapshots))
	}
}

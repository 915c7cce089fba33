package builtins

import (
	"context"
	"testing"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/strategy"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(sym string, closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{Symbol: sym, Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return out
}

func ctxAt(bars []domain.Bar, positions []domain.Position) *strategy.Context {
	last := bars[len(bars)-1]
	return strategy.NewContext(last.Timestamp, 10000, 10000, positions, map[string][]domain.Bar{last.Symbol: bars})
}

func TestSMACrossSignals(t *testing.T) {
	s := NewSMACross(2, 3)
	if err := s.Initialize(context.Background(), []string{"AAPL"}, start, start); err != nil {
		t.Fatal(err)
	}
	// Falling then a sharp rise: short SMA crosses above long on the last bar.
	bars := series("AAPL", 10, 9, 8, 7, 12)
	sigs, err := s.GenerateSignals(context.Background(), ctxAt(bars, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 1 || sigs[0].Type != domain.SignalTypeBuy || sigs[0].Qty != nil {
		t.Fatalf("signals = %+v", sigs)
	}

	bars = series("AAPL", 7, 8, 9, 10, 5)
	held := []domain.Position{{Symbol: "AAPL", Qty: 10}}
	sigs, _ = s.GenerateSignals(context.Background(), ctxAt(bars, held))
	if len(sigs) != 1 || sigs[0].Type != domain.SignalTypeSell {
		t.Fatalf("signals = %+v", sigs)
	}

	sigs, _ = s.GenerateSignals(context.Background(), ctxAt(series("AAPL", 1, 2), nil))
	if len(sigs) != 0 {
		t.Error("expected no signal with insufficient history")
	}
}

func TestSMACrossRejectsBadPeriods(t *testing.T) {
	if err := NewSMACross(5, 3).Initialize(context.Background(), nil, start, start); err == nil {
		t.Error("Initialize accepted short >= long")
	}
}

func TestSMACrossRebalanceEvery(t *testing.T) {
	s := NewSMACross(2, 3).WithRebalanceEvery(3)
	_ = s.Initialize(context.Background(), nil, start, start)
	var got []bool
	for i := 0; i < 6; i++ {
		got = append(got, s.ShouldRebalance(start))
	}
	want := []bool{true, false, false, true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ShouldRebalance sequence = %v, want %v", got, want)
		}
	}
}

func TestBuyAndHoldBuysOnce(t *testing.T) {
	b := NewBuyAndHold(0.5)
	_ = b.Initialize(context.Background(), []string{"AAPL"}, start, start)
	sigs, err := b.GenerateSignals(context.Background(), ctxAt(series("AAPL", 100), nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 1 || sigs[0].Qty == nil || *sigs[0].Qty != 50 {
		t.Fatalf("signals = %+v", sigs)
	}
	if b.ShouldRebalance(start) {
		t.Error("ShouldRebalance true after initial allocation")
	}
}

func TestRSI(t *testing.T) {
	if got := RSI([]float64{1, 2, 3, 4}); got != 100 {
		t.Errorf("RSI(rising) = %v, want 100", got)
	}
	if got := RSI([]float64{4, 3, 2, 1}); got != 0 {
		t.Errorf("RSI(falling) = %v, want 0", got)
	}
	if got := RSI([]float64{1, 2, 1}); got != 50 {
		t.Errorf("RSI(flat) = %v, want 50", got)
	}
}

func TestRSIReversionSizer(t *testing.T) {
	r := NewRSIReversion(3, 30, 70)
	if err := r.Initialize(context.Background(), nil, start, start); err != nil {
		t.Fatal(err)
	}
	sc := ctxAt(series("AAPL", 10, 9, 8, 7), nil)
	sigs, _ := r.GenerateSignals(context.Background(), sc)
	if len(sigs) != 1 || sigs[0].Type != domain.SignalTypeBuy {
		t.Fatalf("signals = %+v", sigs)
	}
	if got := r.PositionSize(sigs[0], sc); got != 285 {
		t.Errorf("PositionSize = %v, want 285", got)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	names := r.List()
	if len(names) != 3 {
		t.Fatalf("List() = %v", names)
	}
	s, err := r.New("sma-cross", strategy.Params{"short": 3, "long": 8})
	if err != nil {
		t.Fatal(err)
	}
	if s.(*SMACross).longPeriod != 8 {
		t.Errorf("longPeriod = %d, want 8", s.(*SMACross).longPeriod)
	}
}

package builtins

import (
	"context"
	"fmt"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/strategy"
)

var (
	_ strategy.Strategy = (*RSIReversion)(nil)
	_ strategy.Sizer    = (*RSIReversion)(nil)
)

// RSIReversion buys oversold symbols and exits once they become overbought.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
	allocation float64
}

func NewRSIReversion(period int, oversold, overbought float64) *RSIReversion {
	return &RSIReversion{period: period, oversold: oversold, overbought: overbought, allocation: 0.2}
}

func (r *RSIReversion) Name() string { return "rsi-reversion" }

func (r *RSIReversion) Initialize(context.Context, []string, time.Time, time.Time) error {
	if r.period < 2 {
		return fmt.Errorf("rsi-reversion: period must be >= 2, got %d", r.period)
	}
	if r.oversold >= r.overbought {
		return fmt.Errorf("rsi-reversion: oversold %.1f must be below overbought %.1f", r.oversold, r.overbought)
	}
	return nil
}

func (r *RSIReversion) ShouldRebalance(time.Time) bool { return true }

func (r *RSIReversion) GenerateSignals(_ context.Context, sc *strategy.Context) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, sym := range sc.Symbols() {
		closes := sc.Closes(sym, r.period+1)
		if len(closes) < r.period+1 {
			continue
		}
		v := RSI(closes)
		meta := map[string]string{"rsi": fmt.Sprintf("%.2f", v)}
		switch {
		case v < r.oversold && sc.Holding(sym) <= 0:
			out = append(out, domain.Signal{
				StrategyID: r.Name(), Symbol: sym, Type: domain.SignalTypeBuy,
				Strength: (r.oversold - v) / r.oversold, Price: closes[len(closes)-1],
				Reason: "oversold", Metadata: meta, CreatedAt: sc.Date,
			})
		case v > r.overbought && sc.Holding(sym) > 0:
			out = append(out, domain.Signal{
				StrategyID: r.Name(), Symbol: sym, Type: domain.SignalTypeSell, Strength: 1,
				Price: closes[len(closes)-1], Reason: "overbought", Metadata: meta, CreatedAt: sc.Date,
			})
		}
	}
	return out, nil
}

// PositionSize allocates a fixed fraction of portfolio value per entry.
func (r *RSIReversion) PositionSize(sig domain.Signal, sc *strategy.Context) float64 {
	if sig.Price <= 0 {
		return 0
	}
	return float64(int64(sc.PortfolioValue * r.allocation / sig.Price))
}

// RSI computes the relative strength index over consecutive closes using
// simple average gains and losses.
func RSI(closes []float64) float64 {
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

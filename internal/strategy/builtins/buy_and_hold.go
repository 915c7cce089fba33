package builtins

import (
	"context"
	"math"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/strategy"
)

var _ strategy.Strategy = (*BuyAndHold)(nil)

// BuyAndHold spends a fraction of the portfolio on an equal-weight basket on
// the first date every symbol has a price, then never trades again.
type BuyAndHold struct {
	invest float64
	done   bool
}

func NewBuyAndHold(investFraction float64) *BuyAndHold {
	if investFraction <= 0 || investFraction > 1 {
		investFraction = 0.95
	}
	return &BuyAndHold{invest: investFraction}
}

func (b *BuyAndHold) Name() string { return "buy-and-hold" }

func (b *BuyAndHold) Initialize(context.Context, []string, time.Time, time.Time) error {
	b.done = false
	return nil
}

func (b *BuyAndHold) ShouldRebalance(time.Time) bool { return !b.done }

func (b *BuyAndHold) GenerateSignals(_ context.Context, sc *strategy.Context) ([]domain.Signal, error) {
	syms := sc.Symbols()
	if len(syms) == 0 {
		return nil, nil
	}
	budget := sc.PortfolioValue * b.invest / float64(len(syms))
	var out []domain.Signal
	for _, sym := range syms {
		bar, ok := sc.Latest(sym)
		if !ok || bar.Close <= 0 {
			return nil, nil
		}
		qty := math.Floor(budget / bar.Close)
		if qty <= 0 {
			continue
		}
		out = append(out, domain.Signal{
			StrategyID: b.Name(), Symbol: sym, Type: domain.SignalTypeBuy, Strength: 1,
			Price: bar.Close, Qty: &qty, Reason: "initial allocation", CreatedAt: sc.Date,
		})
	}
	b.done = true
	return out, nil
}

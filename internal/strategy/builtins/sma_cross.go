// Package builtins provides built-in strategy implementations that ship with
// stockanalyzer.
package builtins

import (
	"context"
	"fmt"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	every       int
	calls       int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		every:       1,
	}
}

// WithRebalanceEvery evaluates signals only on every n-th trading date.
func (s *SMACross) WithRebalanceEvery(n int) *SMACross {
	if n > 0 {
		s.every = n
	}
	return s
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

func (s *SMACross) Initialize(_ context.Context, _ []string, _, _ time.Time) error {
	if s.shortPeriod <= 0 || s.longPeriod <= s.shortPeriod {
		return fmt.Errorf("sma-cross: need 0 < short < long, got %d/%d", s.shortPeriod, s.longPeriod)
	}
	s.calls = 0
	return nil
}

func (s *SMACross) ShouldRebalance(_ time.Time) bool {
	s.calls++
	return (s.calls-1)%s.every == 0
}

// GenerateSignals emits a buy on an upward cross while flat and a sell on a
// downward cross while long.
func (s *SMACross) GenerateSignals(_ context.Context, sc *strategy.Context) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, sym := range sc.Symbols() {
		closes := sc.Closes(sym, s.longPeriod+1)
		if len(closes) < s.longPeriod+1 {
			continue
		}
		prev := closes[:len(closes)-1]
		cur := closes[1:]
		prevDiff := sma(prev, s.shortPeriod) - sma(prev, s.longPeriod)
		curDiff := sma(cur, s.shortPeriod) - sma(cur, s.longPeriod)
		last := cur[len(cur)-1]

		switch {
		case prevDiff <= 0 && curDiff > 0 && sc.Holding(sym) <= 0:
			out = append(out, domain.Signal{
				StrategyID: s.Name(), Symbol: sym, Type: domain.SignalTypeBuy,
				Strength: 1, Price: last, Reason: "short sma crossed above long", CreatedAt: sc.Date,
			})
		case prevDiff >= 0 && curDiff < 0 && sc.Holding(sym) > 0:
			out = append(out, domain.Signal{
				StrategyID: s.Name(), Symbol: sym, Type: domain.SignalTypeSell,
				Strength: 1, Price: last, Reason: "short sma crossed below long", CreatedAt: sc.Date,
			})
		}
	}
	return out, nil
}

// sma averages the trailing n values.
func sma(values []float64, n int) float64 {
	if n > len(values) {
		n = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

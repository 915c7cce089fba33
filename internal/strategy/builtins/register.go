package builtins

import "stockanalyzer/internal/strategy"

// Register adds every built-in strategy factory to r. Parameter names are
// the keys accepted by sweeps and the API.
func Register(r *strategy.Registry) {
	r.RegisterFactory("sma-cross", func(p strategy.Params) (strategy.Strategy, error) {
		s := NewSMACross(int(p.Get("short", 10)), int(p.Get("long", 30)))
		return s.WithRebalanceEvery(int(p.Get("every", 1))), nil
	})
	r.RegisterFactory("buy-and-hold", func(p strategy.Params) (strategy.Strategy, error) {
		return NewBuyAndHold(p.Get("invest", 0.95)), nil
	})
	r.RegisterFactory("rsi-reversion", func(p strategy.Params) (strategy.Strategy, error) {
		return NewRSIReversion(int(p.Get("period", 14)), p.Get("oversold", 30), p.Get("overbought", 70)), nil
	})
}

// NewRegistry returns a registry populated with the built-ins.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/gather"
)

// ErrInvalidConfig is wrapped by every configuration error. Runs with an
// invalid config never start.
var ErrInvalidConfig = errors.New("invalid backtest config")

// DefaultMaxPositionPct applies when Config.MaxPositionPct is zero.
const DefaultMaxPositionPct = 0.1

// Config describes one backtest. It is treated as immutable once a run
// starts.
type Config struct {
	Start               time.Time        `json:"start"`
	End                 time.Time        `json:"end"`
	InitialCapital      float64          `json:"initial_capital"`
	Symbols             []string         `json:"symbols"`
	Market              domain.Market    `json:"market,omitempty"`
	Timeframe           gather.Timeframe `json:"timeframe,omitempty"`
	WarmupDays          int              `json:"warmup_days,omitempty"`
	CommissionRate      float64          `json:"commission_rate"`
	SlippageRate        float64          `json:"slippage_rate"`
	BenchmarkSymbol     string           `json:"benchmark_symbol,omitempty"`
	MaxPositionPct      float64          `json:"max_position_pct"`
	MaxDailyLossPct     float64          `json:"max_daily_loss_pct,omitempty"`
	RiskPerTrade        float64          `json:"risk_per_trade,omitempty"`
	ExecutionDelay      int              `json:"execution_delay,omitempty"`
	MarketImpact        bool             `json:"market_impact,omitempty"`
	AllowShort          bool             `json:"allow_short,omitempty"`
	VolumeParticipation float64          `json:"volume_participation,omitempty"`
	RiskFreeRate        float64          `json:"risk_free_rate,omitempty"`
}

// Normalize returns a copy with defaults filled in and symbols upper-cased
// and de-duplicated in their original order.
func (c Config) Normalize() Config {
	seen := make(map[string]bool, len(c.Symbols))
	syms := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		syms = append(syms, s)
	}
	c.Symbols = syms
	c.BenchmarkSymbol = strings.ToUpper(strings.TrimSpace(c.BenchmarkSymbol))
	if c.Market == "" {
		c.Market = domain.MarketUS
	}
	if c.Timeframe == "" {
		c.Timeframe = gather.TimeframeDaily
	}
	if c.MaxPositionPct == 0 {
		c.MaxPositionPct = DefaultMaxPositionPct
	}
	return c
}

// Validate reports every problem with c, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Start.IsZero() || c.End.IsZero() {
		add("start and end dates are required")
	} else if c.End.Before(c.Start) {
		add("end date %s is before start date %s", c.End.Format(time.DateOnly), c.Start.Format(time.DateOnly))
	}
	if !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0) {
		add("initial capital must be positive, got %g", c.InitialCapital)
	}
	if len(c.Symbols) == 0 {
		add("symbol universe is empty")
	}
	if c.CommissionRate < 0 || c.SlippageRate < 0 {
		add("commission and slippage rates must not be negative")
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		add("max position pct must be in (0, 1], got %g", c.MaxPositionPct)
	}
	if c.MaxDailyLossPct < 0 || c.MaxDailyLossPct > 1 {
		add("max daily loss pct must be in [0, 1], got %g", c.MaxDailyLossPct)
	}
	if c.RiskPerTrade < 0 || c.RiskPerTrade > 1 {
		add("risk per trade must be in [0, 1], got %g", c.RiskPerTrade)
	}
	if c.VolumeParticipation < 0 || c.VolumeParticipation > 1 {
		add("volume participation must be in [0, 1], got %g", c.VolumeParticipation)
	}
	if c.ExecutionDelay < 0 {
		add("execution delay must not be negative")
	}
	if c.WarmupDays < 0 {
		add("warmup days must not be negative")
	}
	if _, err := gather.ParseTimeframe(string(c.Timeframe)); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) executionConfig() execution.Config {
	ec := execution.DefaultConfig()
	ec.CommissionRate = c.CommissionRate
	ec.SlippageRate = c.SlippageRate
	ec.MarketImpact = c.MarketImpact
	return ec
}

// sizingFraction is the share of equity allotted to a full-strength signal
// when the strategy does not size it.
func (c Config) sizingFraction() float64 {
	if c.RiskPerTrade > 0 {
		return c.RiskPerTrade
	}
	return c.MaxPositionPct
}

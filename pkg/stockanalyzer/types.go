package stockanalyzer

import "time"

// BacktestRequest starts a backtest. Dates are YYYY-MM-DD. Nil fields take
// the server's configured defaults.
type BacktestRequest struct {
	Strategy  string             `json:"strategy"`
	Params    map[string]float64 `json:"params,omitempty"`
	Symbols   []string           `json:"symbols"`
	Start     string             `json:"start"`
	End       string             `json:"end"`
	Market    string             `json:"market,omitempty"`
	Timeframe string             `json:"timeframe,omitempty"`

	WarmupDays          *int     `json:"warmup_days,omitempty"`
	InitialCapital      *float64 `json:"initial_capital,omitempty"`
	CommissionRate      *float64 `json:"commission_rate,omitempty"`
	SlippageRate        *float64 `json:"slippage_rate,omitempty"`
	BenchmarkSymbol     *string  `json:"benchmark_symbol,omitempty"`
	MaxPositionPct      *float64 `json:"max_position_pct,omitempty"`
	MaxDailyLossPct     *float64 `json:"max_daily_loss_pct,omitempty"`
	RiskPerTrade        *float64 `json:"risk_per_trade,omitempty"`
	ExecutionDelay      *int     `json:"execution_delay,omitempty"`
	MarketImpact        *bool    `json:"market_impact,omitempty"`
	AllowShort          *bool    `json:"allow_short,omitempty"`
	VolumeParticipation *float64 `json:"volume_participation,omitempty"`
	RiskFreeRate        *float64 `json:"risk_free_rate,omitempty"`
}

// RunStatus is the observable state of a run. The progress WebSocket sends
// one per state or progress change.
type RunStatus struct {
	ID        string    `json:"id"`
	Strategy  string    `json:"strategy"`
	State     string    `json:"state"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Terminal reports whether the run has stopped.
func (s RunStatus) Terminal() bool {
	switch s.State {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

type RunsResponse struct {
	Runs []RunStatus `json:"runs"`
}

type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

type Warning struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// Trade is one executed fill.
type Trade struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"realized_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}

// Summary is the headline performance of a run.
type Summary struct {
	Periods         int     `json:"periods"`
	InitialValue    float64 `json:"initial_value"`
	FinalValue      float64 `json:"final_value"`
	TotalReturn     float64 `json:"total_return"`
	CAGR            float64 `json:"cagr"`
	Volatility      float64 `json:"volatility"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	SortinoRatio    float64 `json:"sortino_ratio"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	CalmarRatio     float64 `json:"calmar_ratio"`
	RealizedPnL     float64 `json:"realized_pnl"`
	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
	Trades          struct {
		Total   int     `json:"total"`
		Wins    int     `json:"wins"`
		Losses  int     `json:"losses"`
		WinRate float64 `json:"win_rate"`
	} `json:"trades"`
}

type Benchmark struct {
	Symbol       string  `json:"symbol"`
	Return       float64 `json:"return"`
	ExcessReturn float64 `json:"excess_return"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
}

// Result is a finished run as served by GET /api/backtests/{id}/result.
type Result struct {
	RunID       string        `json:"run_id"`
	Strategy    string        `json:"strategy"`
	State       string        `json:"state"`
	Summary     Summary       `json:"summary"`
	Benchmark   *Benchmark    `json:"benchmark,omitempty"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Trades      []Trade       `json:"trades"`
	Warnings    []Warning     `json:"warnings"`
}

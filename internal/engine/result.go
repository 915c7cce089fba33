package engine

import (
	"encoding/json"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/portfolio"
	"stockanalyzer/internal/stats"
)

// Warning is a soft failure recorded against a simulated date.
type Warning struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

type ReturnPoint struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// SignalRecord logs a strategy signal and what the engine did with it.
type SignalRecord struct {
	Date    time.Time     `json:"date"`
	Signal  domain.Signal `json:"signal"`
	OrderID string        `json:"order_id,omitempty"`
	Qty     float64       `json:"qty,omitempty"`
	Skipped string        `json:"skipped,omitempty"`
}

// Result is the outcome of a backtest. It is not modified after the run
// returns it.
type Result struct {
	RunID        string                  `json:"run_id"`
	Strategy     string                  `json:"strategy"`
	Config       Config                  `json:"config"`
	State        State                   `json:"state"`
	EquityCurve  []EquityPoint           `json:"equity_curve"`
	Returns      []ReturnPoint           `json:"returns"`
	Trades       []execution.TradeRecord `json:"trades"`
	Orders       []domain.Order          `json:"orders"`
	Fills        []domain.Fill           `json:"fills"`
	Signals      []SignalRecord          `json:"signals"`
	Snapshots    []portfolio.Snapshot    `json:"snapshots"`
	Transactions []domain.Transaction    `json:"transactions"`
	Positions    []domain.Position       `json:"positions"`
	Summary      stats.Summary           `json:"summary"`
	Benchmark    *stats.Benchmark        `json:"benchmark,omitempty"`
	Warnings     []Warning               `json:"warnings"`
	Errors       []string                `json:"errors,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	Duration     time.Duration           `json:"duration"`
}

// summaryDoc is the deterministic part of a Result.
type summaryDoc struct {
	Strategy  string            `json:"strategy"`
	Config    Config            `json:"config"`
	State     State             `json:"state"`
	Summary   stats.Summary     `json:"summary"`
	Benchmark *stats.Benchmark  `json:"benchmark,omitempty"`
	Positions []domain.Position `json:"positions"`
	Warnings  []Warning         `json:"warnings"`
}

// SummaryJSON encodes the parts of the result that depend only on the
// config and the data. Two runs over the same inputs produce identical
// bytes; run id, wall-clock start and duration are left out.
func (r *Result) SummaryJSON() ([]byte, error) {
	return json.Marshal(summaryDoc{
		Strategy:  r.Strategy,
		Config:    r.Config,
		State:     r.State,
		Summary:   r.Summary,
		Benchmark: r.Benchmark,
		Positions: r.Positions,
		Warnings:  r.Warnings,
	})
}

// FinalValue is the last equity point, or the initial capital when no date
// was simulated.
func (r *Result) FinalValue() float64 {
	if len(r.EquityCurve) == 0 {
		return r.Config.InitialCapital
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Value
}

func (r *Result) warn(date time.Time, msg string) {
	r.Warnings = append(r.Warnings, Warning{Date: date, Message: msg})
}

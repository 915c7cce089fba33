// Package report renders backtest results for terminal output.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"stockanalyzer/internal/engine"
	sa "stockanalyzer/pkg/stockanalyzer"
)

// Renderer formats results with styles bound to one output. Colors are
// dropped when the output is not a terminal.
type Renderer struct {
	title  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	gain   lipgloss.Style
	loss   lipgloss.Style
	dim    lipgloss.Style
	header lipgloss.Style
	warn   lipgloss.Style
}

func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1),
		label:  r.NewStyle().Foreground(lipgloss.Color("245")).Width(18),
		value:  r.NewStyle().Foreground(lipgloss.Color("15")),
		gain:   r.NewStyle().Foreground(lipgloss.Color("10")),
		loss:   r.NewStyle().Foreground(lipgloss.Color("9")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("245")),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// FromEngine converts an engine result into the wire form served by the API.
func FromEngine(res *engine.Result) (*sa.Result, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	var out sa.Result
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &out, nil
}

func (r *Renderer) signed(v float64, s string) string {
	switch {
	case v > 0:
		return r.gain.Render(s)
	case v < 0:
		return r.loss.Render(s)
	}
	return r.value.Render(s)
}

func (r *Renderer) row(b *strings.Builder, label, value string) {
	b.WriteString(r.label.Render(label))
	b.WriteString(value)
	b.WriteByte('\n')
}

// Summary renders the headline statistics, benchmark comparison and
// warnings of a result.
func (r *Renderer) Summary(res *sa.Result) string {
	var b strings.Builder
	s := res.Summary

	b.WriteString(r.title.Render(fmt.Sprintf("%s  %s  %s", res.Strategy, res.RunID, strings.ToUpper(res.State))))
	b.WriteString("\n\n")

	r.row(&b, "Periods", r.value.Render(FormatInt(s.Periods)))
	r.row(&b, "Initial value", r.value.Render(FormatMoney(s.InitialValue)))
	r.row(&b, "Final value", r.signed(s.FinalValue-s.InitialValue, FormatMoney(s.FinalValue)))
	r.row(&b, "Total return", r.signed(s.TotalReturn, FormatPct(s.TotalReturn)))
	r.row(&b, "CAGR", r.signed(s.CAGR, FormatPct(s.CAGR)))
	r.row(&b, "Volatility", r.value.Render(FormatPct(s.Volatility)))
	r.row(&b, "Sharpe", r.value.Render(FormatRatio(s.SharpeRatio)))
	r.row(&b, "Sortino", r.value.Render(FormatRatio(s.SortinoRatio)))
	r.row(&b, "Max drawdown", r.signed(-s.MaxDrawdown, FormatPct(-s.MaxDrawdown)))
	r.row(&b, "Calmar", r.value.Render(FormatRatio(s.CalmarRatio)))
	r.row(&b, "Realized P&L", r.signed(s.RealizedPnL, FormatMoney(s.RealizedPnL)))
	r.row(&b, "Commission", r.value.Render(FormatMoney(s.TotalCommission)))
	r.row(&b, "Slippage", r.value.Render(FormatMoney(s.TotalSlippage)))
	r.row(&b, "Trades", r.value.Render(fmt.Sprintf("%s (%d W / %d L, %s)",
		FormatInt(s.Trades.Total), s.Trades.Wins, s.Trades.Losses, FormatPct(s.Trades.WinRate))))

	if bm := res.Benchmark; bm != nil {
		b.WriteString("\n")
		b.WriteString(r.header.Render("Benchmark " + bm.Symbol))
		b.WriteString("\n")
		r.row(&b, "Return", r.signed(bm.Return, FormatPct(bm.Return)))
		r.row(&b, "Excess return", r.signed(bm.ExcessReturn, FormatPct(bm.ExcessReturn)))
		r.row(&b, "Alpha", r.signed(bm.Alpha, FormatPct(bm.Alpha)))
		r.row(&b, "Beta", r.value.Render(FormatRatio(bm.Beta)))
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(r.header.Render(fmt.Sprintf("Warnings (%d)", len(res.Warnings))))
		b.WriteString("\n")
		for _, w := range res.Warnings {
			b.WriteString(r.dim.Render(w.Date.Format("2006-01-02")))
			b.WriteString("  ")
			b.WriteString(r.warn.Render(w.Message))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Trades renders the last limit trades, or all of them when limit <= 0.
func (r *Renderer) Trades(trades []sa.Trade, limit int) string {
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	var b strings.Builder
	b.WriteString(r.header.Render(fmt.Sprintf("%-10s  %-6s  %-4s  %10s  %10s  %10s", "DATE", "SYMBOL", "SIDE", "QTY", "PRICE", "P&L")))
	b.WriteByte('\n')
	for _, t := range trades {
		side := r.gain
		if t.Side == "sell" {
			side = r.loss
		}
		b.WriteString(r.dim.Render(t.Timestamp.Format("2006-01-02")))
		b.WriteString("  ")
		b.WriteString(r.value.Render(fmt.Sprintf("%-6s", t.Symbol)))
		b.WriteString("  ")
		b.WriteString(side.Render(fmt.Sprintf("%-4s", t.Side)))
		b.WriteString(r.value.Render(fmt.Sprintf("  %10s  %10s  ", FormatQty(t.Qty), FormatPrice(t.Price))))
		b.WriteString(r.signed(t.RealizedPnL, fmt.Sprintf("%10s", FormatMoney(t.RealizedPnL))))
		b.WriteByte('\n')
	}
	return b.String()
}

// Sweep renders one line per parameter combination, best total return
// first. Failed combinations are listed last with their error.
func (r *Renderer) Sweep(results []engine.SweepResult) string {
	rows := make([]engine.SweepResult, len(results))
	copy(rows, results)
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Result, rows[j].Result
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Summary.TotalReturn > b.Summary.TotalReturn
	})

	var b strings.Builder
	b.WriteString(r.header.Render(fmt.Sprintf("%-32s  %9s  %7s  %9s  %6s", "PARAMS", "RETURN", "SHARPE", "DRAWDOWN", "TRADES")))
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString(r.value.Render(fmt.Sprintf("%-32s", formatParams(row.Params))))
		b.WriteString("  ")
		if row.Result == nil {
			msg := "no result"
			if row.Err != nil {
				msg = row.Err.Error()
			}
			b.WriteString(r.loss.Render(msg))
			b.WriteByte('\n')
			continue
		}
		s := row.Result.Summary
		b.WriteString(r.signed(s.TotalReturn, fmt.Sprintf("%9s", FormatPct(s.TotalReturn))))
		b.WriteString(r.value.Render(fmt.Sprintf("  %7s  %9s  %6d", FormatRatio(s.SharpeRatio), FormatPct(-s.MaxDrawdown), s.Trades.Total)))
		b.WriteByte('\n')
	}
	return b.String()
}

func formatParams(p map[string]float64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}

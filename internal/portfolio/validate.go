package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"stockanalyzer/internal/domain"
)

// Issue is one consistency problem reported by Validate.
type Issue struct {
	Code    string `json:"code"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Symbol != "" {
		return fmt.Sprintf("%s [%s]: %s", i.Code, i.Symbol, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

const (
	IssueNegativeCash = "negative_cash"
	IssueZeroPosition = "zero_position"
	IssueNonFinite    = "non_finite"
	IssueCashDrift    = "cash_drift"
	IssueQtyDrift     = "qty_drift"
)

// driftTolerance bounds the difference between a balance replayed from the
// transaction log and the one the ledger holds, relative to initial capital.
const driftTolerance = 1e-6

// Validate checks ledger invariants without mutating state. An empty slice
// means the ledger is consistent.
func (l *Ledger) Validate() []Issue {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var issues []Issue
	if !finite(l.cash) {
		issues = append(issues, Issue{Code: IssueNonFinite, Message: fmt.Sprintf("cash is %v", l.cash)})
	} else if l.cash < -l.eps {
		issues = append(issues, Issue{Code: IssueNegativeCash, Message: fmt.Sprintf("cash %.6f below zero", l.cash)})
	}

	for _, sym := range l.sortedSymbolsLocked() {
		pos := l.positions[sym]
		if math.Abs(pos.Qty) <= l.eps {
			issues = append(issues, Issue{Code: IssueZeroPosition, Symbol: sym, Message: "position with zero quantity"})
		}
		if !finite(pos.Qty) || !finite(pos.AvgCost) || !finite(pos.CurrentPrice) {
			issues = append(issues, Issue{Code: IssueNonFinite, Symbol: sym, Message: "position has non-finite values"})
		}
	}

	// Replay the transaction log; cash and quantities must agree with it.
	cash := l.initial
	held := make(map[string]float64)
	for _, tx := range l.transactions {
		cash += tx.NetCashImpact
		if tx.Type == domain.TransactionBuy {
			held[tx.Symbol] += tx.Qty
		} else {
			held[tx.Symbol] -= tx.Qty
		}
	}
	tol := driftTolerance * math.Max(1, math.Abs(l.initial))
	if finite(l.cash) && math.Abs(cash-l.cash) > tol {
		issues = append(issues, Issue{
			Code:    IssueCashDrift,
			Message: fmt.Sprintf("cash %.6f != %.6f replayed from transactions", l.cash, cash),
		})
	}
	for sym := range l.positions {
		if _, ok := held[sym]; !ok {
			held[sym] = 0
		}
	}
	syms := make([]string, 0, len(held))
	for sym := range held {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		var qty float64
		if pos := l.positions[sym]; pos != nil {
			qty = pos.Qty
		}
		if finite(qty) && math.Abs(qty-held[sym]) > l.eps {
			issues = append(issues, Issue{
				Code:    IssueQtyDrift,
				Symbol:  sym,
				Message: fmt.Sprintf("qty %g != %g replayed from transactions", qty, held[sym]),
			})
		}
	}
	return issues
}

// Snapshot is a point-in-time summary of the ledger.
type Snapshot struct {
	Date           time.Time `json:"date"`
	TotalValue     float64   `json:"total_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	PositionCount  int       `json:"position_count"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
}

func (l *Ledger) Snapshot(date time.Time) Snapshot {
	acct := l.Account()
	l.mu.RLock()
	n := len(l.positions)
	l.mu.RUnlock()
	return Snapshot{
		Date:           date,
		TotalValue:     acct.Equity,
		Cash:           acct.Cash,
		PositionsValue: acct.PositionsValue,
		PositionCount:  n,
		RealizedPnL:    acct.RealizedPnL,
		UnrealizedPnL:  acct.UnrealizedPnL,
	}
}

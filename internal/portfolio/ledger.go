// Package portfolio holds the cash and position ledger of a single backtest
// run. All money mutations go through ExecuteTrade.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"stockanalyzer/internal/domain"
)

// DefaultEpsilon is the tolerance used for quantity and cash comparisons.
const DefaultEpsilon = 1e-9

var (
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidTrade       = errors.New("invalid trade")
)

// TradeError describes a trade the ledger refused.
type TradeError struct {
	Symbol string
	Qty    float64
	Price  float64
	Err    error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade %s qty=%g price=%g: %v", e.Symbol, e.Qty, e.Price, e.Err)
}

func (e *TradeError) Unwrap() error { return e.Err }

// Option configures a Ledger.
type Option func(*Ledger)

// WithShortSelling allows sells beyond the held quantity, opening or
// extending a short position.
func WithShortSelling(allow bool) Option {
	return func(l *Ledger) { l.allowShort = allow }
}

func WithEpsilon(eps float64) Option {
	return func(l *Ledger) {
		if eps > 0 {
			l.eps = eps
		}
	}
}

// Ledger tracks cash, positions and the transaction log.
type Ledger struct {
	mu           sync.RWMutex
	initial      float64
	cash         float64
	positions    map[string]*domain.Position
	transactions []domain.Transaction
	realized     float64
	allowShort   bool
	eps          float64
}

// NewLedger creates a ledger funded with initialCapital.
func NewLedger(initialCapital float64, opts ...Option) *Ledger {
	l := &Ledger{
		initial:   initialCapital,
		cash:      initialCapital,
		positions: make(map[string]*domain.Position),
		eps:       DefaultEpsilon,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ExecuteTrade applies a signed quantity (positive buys, negative sells) at
// price and charges commission. On error the ledger is left unchanged.
func (l *Ledger) ExecuteTrade(symbol string, signedQty, price, commission float64, ts time.Time) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fail := func(err error) (domain.Transaction, error) {
		return domain.Transaction{}, &TradeError{Symbol: symbol, Qty: signedQty, Price: price, Err: err}
	}

	if symbol == "" || math.Abs(signedQty) <= l.eps || price <= 0 || commission < 0 ||
		!finite(signedQty) || !finite(price) || !finite(commission) {
		return fail(ErrInvalidTrade)
	}

	notional := signedQty * price
	netCash := -notional - commission

	pos := l.positions[symbol]
	held := 0.0
	if pos != nil {
		held = pos.Qty
	}

	if signedQty > 0 {
		if notional+commission > l.cash+l.eps {
			return fail(ErrInsufficientCash)
		}
	} else {
		if !l.allowShort && -signedQty > held+l.eps {
			return fail(ErrInsufficientShares)
		}
		if l.cash+netCash < -l.eps {
			return fail(ErrInsufficientCash)
		}
	}

	realized := l.applyToPosition(symbol, pos, signedQty, price, ts)
	l.cash += netCash
	l.realized += realized

	txType := domain.TransactionBuy
	if signedQty < 0 {
		txType = domain.TransactionSell
	}
	tx := domain.Transaction{
		Seq:           len(l.transactions) + 1,
		Symbol:        symbol,
		Type:          txType,
		Qty:           math.Abs(signedQty),
		Price:         price,
		Commission:    commission,
		NetCashImpact: netCash,
		RealizedPnL:   realized,
		Timestamp:     ts,
	}
	l.transactions = append(l.transactions, tx)
	return tx, nil
}

// applyToPosition updates the average-cost position and returns the P&L
// realized by any closed quantity.
func (l *Ledger) applyToPosition(symbol string, pos *domain.Position, qty, price float64, ts time.Time) float64 {
	if pos == nil {
		l.positions[symbol] = &domain.Position{
			Symbol:       symbol,
			Qty:          qty,
			AvgCost:      price,
			CurrentPrice: price,
			LastUpdated:  ts,
		}
		return 0
	}

	pos.CurrentPrice = price
	pos.LastUpdated = ts

	// Same direction: weighted average.
	if pos.Qty*qty > 0 {
		total := pos.Qty + qty
		pos.AvgCost = (pos.AvgCost*pos.Qty + price*qty) / total
		pos.Qty = total
		return 0
	}

	closed := math.Min(math.Abs(qty), math.Abs(pos.Qty))
	var realized float64
	if pos.Qty > 0 {
		realized = (price - pos.AvgCost) * closed
	} else {
		realized = (pos.AvgCost - price) * closed
	}

	newQty := pos.Qty + qty
	switch {
	case math.Abs(newQty) <= l.eps:
		delete(l.positions, symbol)
	case newQty*pos.Qty < 0:
		// Reversal: the remainder opens at the trade price.
		pos.Qty = newQty
		pos.AvgCost = price
	default:
		pos.Qty = newQty
	}
	return realized
}

// UpdatePrice marks a held symbol to price. Unknown symbols are ignored.
func (l *Ledger) UpdatePrice(symbol string, price float64, ts time.Time) {
	if price <= 0 || !finite(price) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.LastUpdated = ts
	}
}

// UpdatePrices marks every held symbol present in prices.
func (l *Ledger) UpdatePrices(prices map[string]float64, ts time.Time) {
	for sym, p := range prices {
		l.UpdatePrice(sym, p, ts)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) InitialCapital() float64 { return l.initial }

// TotalValue is cash plus the signed exposure of every position.
func (l *Ledger) TotalValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash + l.exposureLocked()
}

// PositionsValue is the signed exposure of all positions.
func (l *Ledger) PositionsValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exposureLocked()
}

func (l *Ledger) exposureLocked() float64 {
	var v float64
	for _, sym := range l.sortedSymbolsLocked() {
		v += l.positions[sym].Exposure()
	}
	return v
}

func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of all open positions sorted by symbol.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, sym := range l.sortedSymbolsLocked() {
		out = append(out, *l.positions[sym])
	}
	return out
}

func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

func (l *Ledger) UnrealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var v float64
	for _, sym := range l.sortedSymbolsLocked() {
		v += l.positions[sym].UnrealizedPnL()
	}
	return v
}

// Weights returns each position's exposure as a fraction of total value.
func (l *Ledger) Weights() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := l.cash + l.exposureLocked()
	out := make(map[string]float64, len(l.positions))
	if total == 0 {
		return out
	}
	for sym, pos := range l.positions {
		out[sym] = pos.Exposure() / total
	}
	return out
}

// Transactions returns a copy of the append-only transaction log.
func (l *Ledger) Transactions() []domain.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

func (l *Ledger) Account() domain.AccountInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	exposure := l.exposureLocked()
	var unrealized float64
	for _, sym := range l.sortedSymbolsLocked() {
		unrealized += l.positions[sym].UnrealizedPnL()
	}
	return domain.AccountInfo{
		Equity:         l.cash + exposure,
		Cash:           l.cash,
		BuyingPower:    math.Max(l.cash, 0),
		PositionsValue: exposure,
		RealizedPnL:    l.realized,
		UnrealizedPnL:  unrealized,
	}
}

func (l *Ledger) sortedSymbolsLocked() []string {
	syms := make([]string, 0, len(l.positions))
	for s := range l.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

package orders

import (
	"fmt"
	"math"
	"time"

	"stockanalyzer/internal/domain"
)

// Match evaluates active orders against the bars of date and applies the
// resulting fills directly, without an executor.
func (m *Manager) Match(date time.Time, bars map[string]domain.Bar) []domain.Fill {
	fills, _ := m.MatchWith(date, bars, nil)
	return fills
}

// MatchWith evaluates every active order eligible on date in priority order
// (market, stop, limit; ties by submission). When exec is non-nil each
// proposed fill is settled through it before the order state changes. Errors
// from exec are collected and returned; they never abort the cycle.
func (m *Manager) MatchWith(date time.Time, bars map[string]domain.Bar, exec ExecuteFunc) ([]domain.Fill, []error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, id := range m.sequence {
		o := m.orders[id]
		if o.Status.Active() && !o.ActivateAt.After(date) {
			ids = append(ids, id)
		}
	}
	m.byPriority(ids)

	var (
		executed []domain.Fill
		errs     []error
	)
	for _, id := range ids {
		o := m.orders[id]
		bar, ok := bars[o.Symbol]
		if !ok {
			continue
		}

		if o.Type == domain.OrderTypeStopLimit {
			if stopTriggered(o, bar) {
				// Becomes a plain limit order, eligible from the next cycle.
				o.Type = domain.OrderTypeLimit
				o.UpdatedAt = date
				m.log.Debug("stop-limit triggered", "id", o.ID, "symbol", o.Symbol, "stop", o.StopPrice)
				continue
			}
			m.finishCycle(o, date)
			continue
		}

		price, qty := m.proposal(o, bar)
		if qty <= qtyEpsilon {
			m.finishCycle(o, date)
			continue
		}
		if o.TimeInForce == domain.TimeInForceFOK && qty < o.RemainingQty-qtyEpsilon {
			m.cancelLocked(o, date, "fill-or-kill not fully fillable")
			continue
		}

		proposed := domain.Fill{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Qty:       qty,
			Price:     price,
			Timestamp: date,
		}
		fills := []domain.Fill{proposed}
		var err error
		if exec != nil {
			fills, err = exec(*o, proposed)
		}
		for _, f := range fills {
			if f = m.applyFill(o, f, date); f.Qty > 0 {
				executed = append(executed, f)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s %s %s: %w", o.ID, o.Side, o.Symbol, err))
			if o.FilledQty <= qtyEpsilon {
				o.Status = domain.OrderStatusRejected
				o.RejectReason = err.Error()
				o.UpdatedAt = date
			} else if o.Status.Active() {
				m.cancelLocked(o, date, err.Error())
			}
			continue
		}
		m.finishCycle(o, date)
	}
	return executed, errs
}

// proposal returns the fill price and quantity for o against bar, or a zero
// quantity when the order does not trade.
func (m *Manager) proposal(o *domain.Order, bar domain.Bar) (float64, float64) {
	switch o.Type {
	case domain.OrderTypeMarket:
		return bar.Close, o.RemainingQty
	case domain.OrderTypeStop:
		if stopTriggered(o, bar) {
			return bar.Close, o.RemainingQty
		}
	case domain.OrderTypeLimit:
		if limitTriggered(o, bar) {
			return o.LimitPrice, m.capByVolume(o.RemainingQty, bar)
		}
	}
	return 0, 0
}

func (m *Manager) capByVolume(qty float64, bar domain.Bar) float64 {
	if m.participation <= 0 {
		return qty
	}
	limit := math.Floor(m.participation * float64(bar.Volume))
	return math.Min(qty, math.Max(limit, 0))
}

func limitTriggered(o *domain.Order, bar domain.Bar) bool {
	if o.Side == domain.OrderSideBuy {
		return bar.Low <= o.LimitPrice
	}
	return bar.High >= o.LimitPrice
}

func stopTriggered(o *domain.Order, bar domain.Bar) bool {
	if o.Side == domain.OrderSideBuy {
		return bar.High >= o.StopPrice
	}
	return bar.Low <= o.StopPrice
}

// applyFill books f against o and returns the fill as recorded.
func (m *Manager) applyFill(o *domain.Order, f domain.Fill, date time.Time) domain.Fill {
	if f.Qty > o.RemainingQty {
		f.Qty = o.RemainingQty
	}
	if f.Qty <= 0 {
		return domain.Fill{}
	}
	f.OrderID = o.ID
	filled := o.FilledQty + f.Qty
	o.FilledAvgPrice = (o.FilledAvgPrice*o.FilledQty + f.Price*f.Qty) / filled
	o.FilledQty = filled
	o.RemainingQty = o.Qty - filled
	if o.RemainingQty <= qtyEpsilon {
		o.FilledQty = o.Qty
		o.RemainingQty = 0
	}
	o.Commission += f.Commission
	o.Slippage += f.Slippage
	o.UpdatedAt = date

	if o.RemainingQty == 0 {
		o.Status = domain.OrderStatusFilled
		t := date
		o.FilledAt = &t
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	m.fills[o.ID] = append(m.fills[o.ID], f)
	m.allFills = append(m.allFills, f)
	return f
}

// finishCycle applies immediate-or-cancel semantics once an order has had its
// first chance to trade.
func (m *Manager) finishCycle(o *domain.Order, date time.Time) {
	if !o.Status.Active() {
		return
	}
	switch o.TimeInForce {
	case domain.TimeInForceIOC:
		m.cancelLocked(o, date, "immediate-or-cancel remainder")
	case domain.TimeInForceFOK:
		m.cancelLocked(o, date, "fill-or-kill not filled")
	}
}

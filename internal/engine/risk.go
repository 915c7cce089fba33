package engine

import (
	"context"
	"errors"
	"math"

	"stockanalyzer/internal/domain"
)

var (
	ErrDailyLossLimit          = errors.New("daily loss limit reached")
	ErrPositionLimit           = errors.New("position limit reached")
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
)

// RiskManager enforces pre-trade risk rules such as position sizing limits
// and maximum daily loss constraints.
type RiskManager struct {
	maxPositionPct  float64
	maxDailyLossPct float64
	costFactor      float64
	dayStartValue   float64
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionPct: maximum fraction of equity allowed in a single position
//     (e.g. 0.10 for 10%).
//   - maxDailyLossPct: maximum fraction of equity that may be lost in a single
//     trading day (e.g. 0.02 for 2%). Zero disables the check.
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct:  maxPositionPct,
		maxDailyLossPct: maxDailyLossPct,
		costFactor:      1,
	}
}

// SetCosts sets the rates reserved when checking that a buy is affordable.
// They compound the way the execution pipeline prices a buy: slippage and
// impact move the price, commission is charged on the moved notional.
func (rm *RiskManager) SetCosts(commission, slippage, impact float64) {
	rm.costFactor = (1 + slippage) * (1 + impact) * (1 + commission)
}

// BuyCost is the most cash a buy of qty at price can consume.
func (rm *RiskManager) BuyCost(qty, price float64) float64 {
	return qty * price * rm.costFactor
}

// StartDay records the equity the daily loss limit is measured from.
func (rm *RiskManager) StartDay(equity float64) {
	rm.dayStartValue = equity
}

// DailyLossBreached reports whether equity has fallen by the daily loss
// limit since StartDay.
func (rm *RiskManager) DailyLossBreached(equity float64) bool {
	if rm.maxDailyLossPct <= 0 || rm.dayStartValue <= 0 {
		return false
	}
	return (rm.dayStartValue-equity)/rm.dayStartValue >= rm.maxDailyLossPct
}

// CheckOrder clamps the order quantity to the configured limits given the
// current holding of the order's symbol and returns the allowed quantity.
// Quantity that reduces an existing position is always allowed; only new
// exposure is capped. An error is returned when nothing can be traded.
func (rm *RiskManager) CheckOrder(_ context.Context, order *domain.Order, price, holding float64, account *domain.AccountInfo) (float64, error) {
	if order.Qty <= 0 || price <= 0 {
		return 0, ErrPositionLimit
	}
	sign := order.Side.Sign()

	var reducing float64
	if holding*sign < 0 {
		reducing = math.Min(order.Qty, math.Abs(holding))
	}
	opening := order.Qty - reducing

	if opening > 0 {
		allowed := 0.0
		if !rm.DailyLossBreached(account.Equity) {
			capQty := rm.maxPositionPct * account.Equity / price
			held := 0.0
			if holding*sign > 0 {
				held = math.Abs(holding)
			}
			allowed = math.Max(capQty-held, 0)
		}
		if opening > allowed {
			opening = math.Floor(allowed)
		}
	}
	qty := reducing + opening

	if order.Side == domain.OrderSideBuy {
		affordable := math.Floor(account.Cash / (price * rm.costFactor))
		if qty > affordable {
			qty = math.Max(affordable, 0)
			if qty == 0 {
				return 0, ErrInsufficientBuyingPower
			}
		}
	}

	if qty <= 0 {
		if rm.DailyLossBreached(account.Equity) {
			return 0, ErrDailyLossLimit
		}
		return 0, ErrPositionLimit
	}
	return qty, nil
}

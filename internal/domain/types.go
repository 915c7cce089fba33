// Package domain defines the core value types shared by the backtest engine:
// bars, orders, fills, positions, ledger transactions and strategy signals.
package domain

import (
	"math"
	"time"
)

// Market identifies the venue a symbol trades on.
type Market string

const (
	MarketUS     Market = "us"
	MarketCN     Market = "cn"
	MarketCrypto Market = "crypto"
)

// Bar is one OHLCV observation for a symbol at a session timestamp.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

func (s OrderSide) Valid() bool { return s == OrderSideBuy || s == OrderSideSell }

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

func (t TimeInForce) Valid() bool {
	switch t {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Active reports whether an order in this status can still be matched or
// cancelled.
func (s OrderStatus) Active() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order is an instruction to trade. FilledQty + RemainingQty always equals Qty.
type Order struct {
	ID             string      `json:"id"`
	StrategyID     string      `json:"strategy_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	Status         OrderStatus `json:"status"`
	Qty            float64     `json:"qty"`
	LimitPrice     float64     `json:"limit_price,omitempty"`
	StopPrice      float64     `json:"stop_price,omitempty"`
	FilledQty      float64     `json:"filled_qty"`
	RemainingQty   float64     `json:"remaining_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	Commission     float64     `json:"commission"`
	Slippage       float64     `json:"slippage"`
	RejectReason   string      `json:"reject_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ActivateAt     time.Time   `json:"activate_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Fills, positions, transactions
// ---------------------------------------------------------------------------

// Fill is an executed quantity at a price for one order.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	Impact     float64   `json:"impact"`
	Timestamp  time.Time `json:"timestamp"`
}

// Value is the notional of the fill at its execution price.
func (f Fill) Value() float64 { return f.Qty * f.Price }

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a net holding in one symbol. Qty is signed: negative is short.
type Position struct {
	Symbol       string    `json:"symbol"`
	Qty          float64   `json:"qty"`
	AvgCost      float64   `json:"avg_cost"`
	CurrentPrice float64   `json:"current_price"`
	LastUpdated  time.Time `json:"last_updated"`
}

func (p Position) Side() PositionSide {
	if p.Qty < 0 {
		return PositionSideShort
	}
	return PositionSideLong
}

// MarketValue is the absolute value of the holding at the current price.
func (p Position) MarketValue() float64 { return math.Abs(p.Qty) * p.CurrentPrice }

// Exposure is the signed value of the holding; shorts contribute negatively.
func (p Position) Exposure() float64 { return p.Qty * p.CurrentPrice }

func (p Position) CostBasis() float64 { return math.Abs(p.Qty) * p.AvgCost }

func (p Position) UnrealizedPnL() float64 { return (p.CurrentPrice - p.AvgCost) * p.Qty }

type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// Transaction is an immutable ledger entry recorded for every executed trade.
type Transaction struct {
	Seq           int             `json:"seq"`
	Symbol        string          `json:"symbol"`
	Type          TransactionType `json:"type"`
	Qty           float64         `json:"qty"`
	Price         float64         `json:"price"`
	Commission    float64         `json:"commission"`
	NetCashImpact float64         `json:"net_cash_impact"`
	RealizedPnL   float64         `json:"realized_pnl"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Signals and account
// ---------------------------------------------------------------------------

type SignalType string

const (
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
	SignalTypeHold SignalType = "hold"
)

// Signal is a strategy's trading intent. A nil Qty defers sizing to the
// engine.
type Signal struct {
	ID         int               `json:"id"`
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Type       SignalType        `json:"type"`
	Strength   float64           `json:"strength"`
	Price      float64           `json:"price,omitempty"`
	Qty        *float64          `json:"qty,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// AccountInfo summarises a portfolio for risk checks and reporting.
type AccountInfo struct {
	Equity         float64 `json:"equity"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buying_power"`
	PositionsValue float64 `json:"positions_value"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
}

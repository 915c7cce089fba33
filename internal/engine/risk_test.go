package engine

import (
	"context"
	"errors"
	"testing"

	"stockanalyzer/internal/domain"
)

func buyOrder(qty float64) *domain.Order {
	return &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: qty}
}

func sellOrder(qty float64) *domain.Order {
	return &domain.Order{Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: qty}
}

func TestRiskManagerPositionCap(t *testing.T) {
	rm := NewRiskManager(0.10, 0.02)
	acct := &domain.AccountInfo{Equity: 100000, Cash: 100000}
	ctx := context.Background()

	if got, err := rm.CheckOrder(ctx, buyOrder(500), 100, 0, acct); err != nil || got != 100 {
		t.Errorf("CheckOrder(500) = %v, %v, want 100", got, err)
	}
	if got, err := rm.CheckOrder(ctx, buyOrder(50), 100, 80, acct); err != nil || got != 20 {
		t.Errorf("CheckOrder with holding 80 = %v, %v, want 20", got, err)
	}
	if _, err := rm.CheckOrder(ctx, buyOrder(1), 100, 100, acct); !errors.Is(err, ErrPositionLimit) {
		t.Errorf("err = %v, want ErrPositionLimit", err)
	}
}

func TestRiskManagerReducingAlwaysAllowed(t *testing.T) {
	rm := NewRiskManager(0.01, 0.02)
	acct := &domain.AccountInfo{Equity: 100000, Cash: 0}
	rm.StartDay(200000)

	got, err := rm.CheckOrder(context.Background(), sellOrder(300), 100, 300, acct)
	if err != nil || got != 300 {
		t.Errorf("CheckOrder(sell 300) = %v, %v, want 300", got, err)
	}
}

func TestRiskManagerReversalCapsNewSide(t *testing.T) {
	rm := NewRiskManager(0.10, 0)
	acct := &domain.AccountInfo{Equity: 100000, Cash: 100000}
	// Closing 50 is free; the short side is capped at 100 shares.
	got, err := rm.CheckOrder(context.Background(), sellOrder(500), 100, 50, acct)
	if err != nil || got != 150 {
		t.Errorf("CheckOrder = %v, %v, want 150", got, err)
	}
}

func TestRiskManagerAffordability(t *testing.T) {
	rm := NewRiskManager(1, 0)
	rm.SetCosts(0.01, 0, 0)
	acct := &domain.AccountInfo{Equity: 1000, Cash: 1000}

	got, err := rm.CheckOrder(context.Background(), buyOrder(50), 100, 0, acct)
	if err != nil || got != 9 {
		t.Errorf("CheckOrder = %v, %v, want 9", got, err)
	}

	acct.Cash = 50
	if _, err := rm.CheckOrder(context.Background(), buyOrder(1), 100, 0, acct); !errors.Is(err, ErrInsufficientBuyingPower) {
		t.Errorf("err = %v, want ErrInsufficientBuyingPower", err)
	}
}

func TestRiskManagerCostsCompound(t *testing.T) {
	rm := NewRiskManager(1, 0)
	rm.SetCosts(0.01, 0.01, 0)
	acct := &domain.AccountInfo{Equity: 100000, Cash: 100000}

	got, err := rm.CheckOrder(context.Background(), buyOrder(100000), 1, 0, acct)
	if err != nil {
		t.Fatal(err)
	}
	// 100000 / (1.01 * 1.01)
	if got != 98029 {
		t.Errorf("CheckOrder = %v, want 98029", got)
	}
	if cost := rm.BuyCost(got, 1); cost > acct.Cash {
		t.Errorf("BuyCost(%v) = %v, exceeds cash %v", got, cost, acct.Cash)
	}
}

func TestRiskManagerDailyLoss(t *testing.T) {
	rm := NewRiskManager(0.10, 0.02)
	rm.StartDay(100000)
	acct := &domain.AccountInfo{Equity: 97000, Cash: 50000}

	if !rm.DailyLossBreached(acct.Equity) {
		t.Fatal("3% drop should breach a 2% limit")
	}
	if _, err := rm.CheckOrder(context.Background(), buyOrder(10), 100, 0, acct); !errors.Is(err, ErrDailyLossLimit) {
		t.Errorf("err = %v, want ErrDailyLossLimit", err)
	}

	rm.StartDay(97000)
	if rm.DailyLossBreached(97000) {
		t.Error("a new day resets the reference equity")
	}
}

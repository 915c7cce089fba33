package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/orders"
	"stockanalyzer/internal/portfolio"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// ErrNotCancellable is returned when cancelling an unknown or finished order.
var ErrNotCancellable = errors.New("order not cancellable")

// SimulatorConfig parameterises a simulated account.
type SimulatorConfig struct {
	InitialCapital      float64
	AllowShort          bool
	VolumeParticipation float64
	Execution           execution.Config
}

// SimulatorBroker implements the Broker interface for backtesting. It owns
// one ledger, order book and execution pipeline; nothing is shared between
// instances.
type SimulatorBroker struct {
	ledger   *portfolio.Ledger
	orders   *orders.Manager
	pipeline *execution.Pipeline
	log      *slog.Logger

	mu   sync.Mutex
	date time.Time
}

// StepReport describes what happened during one Advance.
type StepReport struct {
	Date    time.Time
	Expired []domain.Order
	Fills   []domain.Fill
	Errors  []error
}

// NewSimulatorBroker creates a funded simulated account.
func NewSimulatorBroker(cfg SimulatorConfig, logger *slog.Logger) *SimulatorBroker {
	if logger == nil {
		logger = slog.Default()
	}
	ledger := portfolio.NewLedger(cfg.InitialCapital, portfolio.WithShortSelling(cfg.AllowShort))
	return &SimulatorBroker{
		ledger:   ledger,
		orders:   orders.NewManager(orders.WithVolumeParticipation(cfg.VolumeParticipation), orders.WithLogger(logger)),
		pipeline: execution.NewPipeline(ledger, cfg.Execution),
		log:      logger.With("broker", "simulator"),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder admits the order into the book. It is matched on the next
// Advance whose date reaches the order's activation date.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order.CreatedAt.IsZero() {
		b.mu.Lock()
		order.CreatedAt = b.date
		b.mu.Unlock()
	}
	id, err := b.orders.Submit(order)
	stored, _ := b.orders.Get(id)
	if err != nil {
		return &stored, err
	}
	return &stored, nil
}

// CancelOrder cancels an active order as of the current simulated date.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	date := b.date
	b.mu.Unlock()
	if !b.orders.Cancel(orderID, date) {
		return fmt.Errorf("%w: %s", ErrNotCancellable, orderID)
	}
	return nil
}

// GetPositions returns copies of all open positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	return b.ledger.Positions(), nil
}

// GetAccount returns the simulated account summary.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	acct := b.ledger.Account()
	return &acct, nil
}

// Advance processes one trading date: expires stale day orders, marks
// positions to the day's closes and matches active orders against bars.
// Execution failures are reported in the StepReport, not as an error.
func (b *SimulatorBroker) Advance(ctx context.Context, date time.Time, bars map[string]domain.Bar) (*StepReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.date = date
	b.mu.Unlock()

	rep := &StepReport{Date: date}
	rep.Expired = b.orders.ExpireDayOrders(date)

	b.markToMarket(date, bars)
	rep.Fills, rep.Errors = b.orders.MatchWith(date, bars, b.pipeline.Execute)
	// Fills book at execution prices; re-mark so valuations use the close.
	b.markToMarket(date, bars)

	if len(rep.Fills) > 0 || len(rep.Errors) > 0 {
		b.log.Debug("advance", "date", date.Format(time.DateOnly), "fills", len(rep.Fills), "errors", len(rep.Errors))
	}
	return rep, nil
}

// MarkToMarket updates position prices from bars without matching.
func (b *SimulatorBroker) MarkToMarket(date time.Time, bars map[string]domain.Bar) {
	b.markToMarket(date, bars)
}

func (b *SimulatorBroker) markToMarket(date time.Time, bars map[string]domain.Bar) {
	prices := make(map[string]float64, len(bars))
	for sym, bar := range bars {
		prices[sym] = bar.Close
		b.pipeline.SetVolume(sym, bar.Volume)
	}
	b.ledger.UpdatePrices(prices, date)
}

// Close cancels every remaining active order at the end of a run.
func (b *SimulatorBroker) Close(date time.Time) []domain.Order {
	return b.orders.CancelAll(date, "run finished")
}

func (b *SimulatorBroker) Ledger() *portfolio.Ledger     { return b.ledger }
func (b *SimulatorBroker) Orders() *orders.Manager       { return b.orders }
func (b *SimulatorBroker) Pipeline() *execution.Pipeline { return b.pipeline }

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockanalyzer/internal/broker"
	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/stats"
	"stockanalyzer/internal/strategy"
)

// simulation is the mutable state of one run. It is confined to the
// goroutine executing the run.
type simulation struct {
	cfg    Config
	run    *Run
	strat  strategy.Strategy
	sizer  strategy.Sizer
	data   *dataset
	broker *broker.SimulatorBroker
	venue  broker.Broker
	risk   *RiskManager
	res    *Result
	log    *slog.Logger
	span   trace.Span

	cursor    map[string]int
	signalSeq int
}

func (e *Engine) execute(ctx context.Context, run *Run, strat strategy.Strategy, data *dataset, progress ProgressFunc) (*Result, error) {
	cfg := run.cfg
	started := time.Now()
	res := &Result{
		RunID:     run.id,
		Strategy:  run.strategy,
		Config:    cfg,
		StartedAt: started.UTC(),
	}
	log := e.log.With("run", run.id, "strategy", run.strategy)

	ctx, span := e.tracer.Start(ctx, "backtest.run", trace.WithAttributes(
		attribute.String("backtest.run_id", run.id),
		attribute.String("backtest.strategy", run.strategy),
		attribute.Int("backtest.symbols", len(cfg.Symbols)),
	))
	defer span.End()

	run.setState(StateRunning)
	log.Info("starting backtest",
		"start", cfg.Start.Format(time.DateOnly),
		"end", cfg.End.Format(time.DateOnly),
		"symbols", len(cfg.Symbols),
		"capital", cfg.InitialCapital,
	)

	fail := func(err error) (*Result, error) {
		res.State = StateFailed
		res.Errors = append(res.Errors, err.Error())
		res.Duration = time.Since(started)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("backtest failed", "error", err)
		return res, err
	}

	if data == nil {
		var err error
		if data, err = e.load(ctx, cfg); err != nil {
			if ctx.Err() != nil || run.cancelled() {
				res.State = StateCancelled
				res.Duration = time.Since(started)
				return res, nil
			}
			return fail(err)
		}
	}

	sim := &simulation{
		cfg:   cfg,
		run:   run,
		strat: strat,
		data:  data,
		broker: broker.NewSimulatorBroker(broker.SimulatorConfig{
			InitialCapital:      cfg.InitialCapital,
			AllowShort:          cfg.AllowShort,
			VolumeParticipation: cfg.VolumeParticipation,
			Execution:           cfg.executionConfig(),
		}, log),
		risk:   NewRiskManager(cfg.MaxPositionPct, cfg.MaxDailyLossPct),
		res:    res,
		log:    log,
		span:   span,
		cursor: make(map[string]int, len(data.bars)),
	}
	// Signals are routed through the Broker contract; the simulator-only
	// hooks (Advance, MarkToMarket, Close) are driven by the loop.
	sim.venue = sim.broker
	sim.sizer, _ = strat.(strategy.Sizer)
	var impact float64
	if cfg.MarketImpact {
		impact = sim.broker.Pipeline().Config().MaxImpact
	}
	sim.risk.SetCosts(cfg.CommissionRate, cfg.SlippageRate, impact)

	for _, sym := range data.missing {
		sim.warn(cfg.Start, "no data for "+sym)
	}
	if cfg.BenchmarkSymbol != "" && len(data.bench) == 0 {
		sim.warn(cfg.Start, "no data for benchmark "+cfg.BenchmarkSymbol)
	}
	if len(data.dates) == 0 {
		sim.warn(cfg.Start, "no trading dates in range")
	}

	if err := guard(func() error { return strat.Initialize(ctx, cfg.Symbols, cfg.Start, cfg.End) }); err != nil {
		return fail(fmt.Errorf("initializing strategy: %w", err))
	}

	state := sim.loop(ctx, progress)
	sim.finalize(state)
	res.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("backtest.state", string(res.State)),
		attribute.Float64("backtest.final_value", res.Summary.FinalValue),
		attribute.Int("backtest.trades", len(res.Trades)),
	)
	log.Info("backtest finished",
		"state", res.State,
		"final_value", res.Summary.FinalValue,
		"return", res.Summary.TotalReturn,
		"trades", len(res.Trades),
		"warnings", len(res.Warnings),
		"elapsed", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func (s *simulation) warn(date time.Time, msg string) {
	s.res.warn(date, msg)
	s.span.AddEvent("warning", trace.WithAttributes(
		attribute.String("date", date.Format(time.DateOnly)),
		attribute.String("message", msg),
	))
	s.log.Warn("backtest warning", "date", date.Format(time.DateOnly), "message", msg)
}

func (s *simulation) loop(ctx context.Context, progress ProgressFunc) State {
	n := len(s.data.dates)
	for i, date := range s.data.dates {
		if ctx.Err() != nil || s.run.cancelled() {
			s.log.Info("backtest cancelled", "date", date.Format(time.DateOnly), "done", i, "of", n)
			return StateCancelled
		}
		if err := guard(func() error { return s.step(ctx, i, date) }); err != nil {
			if ctx.Err() != nil {
				return StateCancelled
			}
			s.warn(date, err.Error())
		}
		pct := float64(i+1) / float64(n) * 100
		s.run.setProgress(pct)
		if progress != nil {
			progress(pct)
		}
	}
	return StateCompleted
}

// step simulates one date: refresh prices, ask the strategy, submit
// orders, match them and snapshot the ledger.
func (s *simulation) step(ctx context.Context, i int, date time.Time) error {
	today := s.advance(date)
	ledger := s.broker.Ledger()

	s.risk.StartDay(ledger.TotalValue())
	s.broker.MarkToMarket(date, today)

	if s.strat.ShouldRebalance(date) {
		s.rebalance(ctx, i, date, today)
	}

	rep, err := s.broker.Advance(ctx, date, today)
	if err != nil {
		return err
	}
	for _, o := range rep.Expired {
		s.log.Debug("order expired", "id", o.ID, "symbol", o.Symbol)
	}
	for _, err := range rep.Errors {
		s.warn(date, err.Error())
	}
	for _, issue := range ledger.Validate() {
		s.warn(date, "ledger: "+issue.String())
	}
	s.res.Snapshots = append(s.res.Snapshots, ledger.Snapshot(date))
	return nil
}

// advance moves every symbol's cursor past date and returns the bars stamped
// exactly on date.
func (s *simulation) advance(date time.Time) map[string]domain.Bar {
	today := make(map[string]domain.Bar, len(s.data.bars))
	for sym, bars := range s.data.bars {
		c := s.cursor[sym]
		for c < len(bars) && !bars[c].Timestamp.After(date) {
			c++
		}
		s.cursor[sym] = c
		if c > 0 && bars[c-1].Timestamp.Equal(date) {
			today[sym] = bars[c-1]
		}
	}
	return today
}

func (s *simulation) history() map[string][]domain.Bar {
	h := make(map[string][]domain.Bar, len(s.data.bars))
	for sym, bars := range s.data.bars {
		if c := s.cursor[sym]; c > 0 {
			h[sym] = bars[:c]
		}
	}
	return h
}

func (s *simulation) rebalance(ctx context.Context, i int, date time.Time, today map[string]domain.Bar) {
	info, err := s.venue.GetAccount(ctx)
	if err != nil {
		s.warn(date, fmt.Sprintf("reading account: %v", err))
		return
	}
	positions, err := s.venue.GetPositions(ctx)
	if err != nil {
		s.warn(date, fmt.Sprintf("reading positions: %v", err))
		return
	}
	acct := *info
	sc := strategy.NewContext(date, acct.Equity, acct.Cash, positions, s.history())

	signals, err := s.strat.GenerateSignals(ctx, sc)
	if err != nil {
		s.warn(date, fmt.Sprintf("generating signals: %v", err))
		return
	}
	for _, sig := range signals {
		rec := s.handle(ctx, i, date, sig, sc, today, &acct)
		s.res.Signals = append(s.res.Signals, rec)
	}
}

// handle turns one signal into at most one market order. acct is the
// running account view; cash committed to earlier buys of the same date is
// deducted from it.
func (s *simulation) handle(ctx context.Context, i int, date time.Time, sig domain.Signal, sc *strategy.Context, today map[string]domain.Bar, acct *domain.AccountInfo) SignalRecord {
	s.signalSeq++
	if sig.ID == 0 {
		sig.ID = s.signalSeq
	}
	if sig.StrategyID == "" {
		sig.StrategyID = s.strat.Name()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = date
	}
	rec := SignalRecord{Date: date, Signal: sig}

	var side domain.OrderSide
	switch sig.Type {
	case domain.SignalTypeBuy:
		side = domain.OrderSideBuy
	case domain.SignalTypeSell:
		side = domain.OrderSideSell
	default:
		rec.Skipped = "no action"
		return rec
	}
	if !slices.Contains(s.cfg.Symbols, sig.Symbol) {
		rec.Skipped = "symbol not in universe"
		return rec
	}

	price := sig.Price
	if bar, ok := today[sig.Symbol]; ok {
		price = bar.Close
	}
	if price <= 0 {
		rec.Skipped = "no price"
		return rec
	}

	holding := sc.Holding(sig.Symbol)
	qty := s.size(sig, sc, side, price, holding)
	if side == domain.OrderSideSell && !s.cfg.AllowShort {
		qty = math.Min(qty, math.Max(holding, 0))
	}
	if !(qty > 0) || math.IsInf(qty, 0) {
		rec.Skipped = "zero quantity"
		return rec
	}

	order := &domain.Order{
		StrategyID:  sig.StrategyID,
		Symbol:      sig.Symbol,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceDay,
		Qty:         qty,
		CreatedAt:   date,
		ActivateAt:  date,
	}
	if d := s.cfg.ExecutionDelay; d > 0 {
		order.TimeInForce = domain.TimeInForceGTC
		if j := i + d; j < len(s.data.dates) {
			order.ActivateAt = s.data.dates[j]
		} else {
			// Past the last date; it is cancelled when the run closes.
			order.ActivateAt = s.data.dates[len(s.data.dates)-1].Add(time.Nanosecond)
		}
	}

	allowed, err := s.risk.CheckOrder(ctx, order, price, holding, acct)
	if err != nil {
		rec.Skipped = err.Error()
		s.log.Debug("signal blocked by risk", "symbol", sig.Symbol, "side", side, "qty", qty, "reason", err)
		return rec
	}
	if allowed < qty {
		s.log.Debug("order clamped", "symbol", sig.Symbol, "side", side, "requested", qty, "allowed", allowed)
		order.Qty = allowed
	}

	stored, err := s.venue.SubmitOrder(ctx, order)
	if err != nil {
		rec.Skipped = err.Error()
		s.warn(date, fmt.Sprintf("submitting %s %s: %v", side, sig.Symbol, err))
		return rec
	}
	rec.OrderID, rec.Qty = stored.ID, stored.Qty
	if side == domain.OrderSideBuy {
		acct.Cash -= s.risk.BuyCost(stored.Qty, price)
	}
	return rec
}

// size resolves the order quantity of a signal: the explicit quantity,
// else the whole long position for sells, else the strategy's own sizing,
// else strength * sizing fraction * equity / price in whole shares.
func (s *simulation) size(sig domain.Signal, sc *strategy.Context, side domain.OrderSide, price, holding float64) float64 {
	if sig.Qty != nil {
		return math.Abs(*sig.Qty)
	}
	if side == domain.OrderSideSell && holding > 0 {
		return holding
	}
	if s.sizer != nil {
		return s.sizer.PositionSize(sig, sc)
	}
	strength := sig.Strength
	if strength <= 0 || strength > 1 {
		strength = 1
	}
	return math.Floor(strength * s.cfg.sizingFraction() * sc.PortfolioValue / price)
}

func (s *simulation) finalize(state State) {
	last := s.cfg.End
	if n := len(s.data.dates); n > 0 {
		last = s.data.dates[n-1]
	}
	s.broker.Close(last)

	ledger := s.broker.Ledger()
	book := s.broker.Orders()
	res := s.res
	res.State = state
	res.Orders = book.Orders()
	res.Fills = book.AllFills()
	res.Trades = s.broker.Pipeline().Trades()
	res.Transactions = ledger.Transactions()
	res.Positions = ledger.Positions()
	if err := book.CheckConservation(); err != nil {
		s.warn(last, err.Error())
	}

	dates := make([]time.Time, len(res.Snapshots))
	values := make([]float64, len(res.Snapshots))
	for i, snap := range res.Snapshots {
		dates[i], values[i] = snap.Date, snap.TotalValue
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Date: snap.Date, Value: stats.Round(snap.TotalValue)})
	}
	rets := stats.Returns(append([]float64{s.cfg.InitialCapital}, values...))
	for i, r := range rets {
		res.Returns = append(res.Returns, ReturnPoint{Date: dates[i], Return: stats.Round(r)})
	}

	sum := stats.Summarize(dates, values, s.cfg.InitialCapital, s.cfg.RiskFreeRate)
	totals := s.broker.Pipeline().Totals()
	sum.RealizedPnL = stats.Round(ledger.RealizedPnL())
	sum.TotalCommission = stats.Round(totals.Commission)
	sum.TotalSlippage = stats.Round(totals.Slippage)
	sum.Trades = stats.ComputeTradeStats(len(res.Trades), closingPnLs(res.Trades))
	res.Summary = sum

	if len(s.data.bench) > 0 && len(dates) > 0 {
		b := stats.Compare(s.cfg.BenchmarkSymbol, rets, benchmarkReturns(s.data.bench, dates), stats.TradingDaysPerYear)
		res.Benchmark = &b
	}
}

// closingPnLs returns the realized P&L of every trade that reduced a
// position, replaying trades in order.
func closingPnLs(trades []execution.TradeRecord) []float64 {
	held := make(map[string]float64)
	var out []float64
	for _, t := range trades {
		signed := t.Side.Sign() * t.Qty
		if held[t.Symbol]*signed < 0 {
			out = append(out, t.RealizedPnL)
		}
		held[t.Symbol] += signed
	}
	return out
}

// benchmarkReturns aligns benchmark closes to dates, carrying the last close
// forward, and returns one return per date measured from the first close.
func benchmarkReturns(bench []domain.Bar, dates []time.Time) []float64 {
	closes := make([]float64, 0, len(dates)+1)
	closes = append(closes, bench[0].Close)
	c, last := 0, bench[0].Close
	for _, d := range dates {
		for c < len(bench) && !bench[c].Timestamp.After(d) {
			last = bench[c].Close
			c++
		}
		closes = append(closes, last)
	}
	return stats.Returns(closes)
}

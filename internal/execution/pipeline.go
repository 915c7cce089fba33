// Package execution prices fills with slippage, commission and market
// impact and books them into the portfolio ledger.
package execution

import (
	"fmt"
	"math"
	"sync"
	"time"

	"stockanalyzer/internal/domain"
)

// Ledger is the part of the portfolio ledger the pipeline mutates.
type Ledger interface {
	ExecuteTrade(symbol string, signedQty, price, commission float64, ts time.Time) (domain.Transaction, error)
}

// Config holds the cost model parameters.
type Config struct {
	CommissionRate     float64 `yaml:"commission_rate" json:"commission_rate"`
	SlippageRate       float64 `yaml:"slippage_rate" json:"slippage_rate"`
	MarketImpact       bool    `yaml:"market_impact" json:"market_impact"`
	ImpactFactor       float64 `yaml:"impact_factor" json:"impact_factor"`
	MaxImpact          float64 `yaml:"max_impact" json:"max_impact"`
	ChunkParticipation float64 `yaml:"chunk_participation" json:"chunk_participation"`
	ChunkDecay         float64 `yaml:"chunk_decay" json:"chunk_decay"`
}

// DefaultConfig returns the impact defaults with zero costs.
func DefaultConfig() Config {
	return Config{
		ImpactFactor:       0.1,
		MaxImpact:          0.05,
		ChunkParticipation: 0.1,
		ChunkDecay:         0.5,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ImpactFactor <= 0 {
		c.ImpactFactor = d.ImpactFactor
	}
	if c.MaxImpact <= 0 {
		c.MaxImpact = d.MaxImpact
	}
	if c.ChunkParticipation <= 0 {
		c.ChunkParticipation = d.ChunkParticipation
	}
	if c.ChunkDecay <= 0 {
		c.ChunkDecay = d.ChunkDecay
	}
}

// TradeRecord is the priced result of one executed fill or chunk.
type TradeRecord struct {
	OrderID     string           `json:"order_id"`
	Symbol      string           `json:"symbol"`
	Side        domain.OrderSide `json:"side"`
	Qty         float64          `json:"qty"`
	MarketPrice float64          `json:"market_price"`
	Price       float64          `json:"price"`
	Commission  float64          `json:"commission"`
	Slippage    float64          `json:"slippage"`
	Impact      float64          `json:"impact"`
	RealizedPnL float64          `json:"realized_pnl"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Totals aggregates trading costs over a run.
type Totals struct {
	Trades     int     `json:"trades"`
	Commission float64 `json:"commission"`
	Slippage   float64 `json:"slippage"`
	Impact     float64 `json:"impact"`
}

// Pipeline converts fills into ledger trades.
type Pipeline struct {
	ledger Ledger
	cfg    Config

	mu     sync.Mutex
	trades []TradeRecord
	volume map[string]int64
}

func NewPipeline(ledger Ledger, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{ledger: ledger, cfg: cfg, volume: make(map[string]int64)}
}

func (p *Pipeline) Config() Config { return p.cfg }

// SlippagePrice moves price against the trader by the slippage rate.
func (p *Pipeline) SlippagePrice(side domain.OrderSide, price float64) float64 {
	if side == domain.OrderSideBuy {
		return price * (1 + p.cfg.SlippageRate)
	}
	return price * (1 - p.cfg.SlippageRate)
}

func (p *Pipeline) Commission(value float64) float64 {
	return math.Abs(value) * p.cfg.CommissionRate
}

// EstimateImpact returns the fractional price impact of trading qty against a
// day's volume: factor * sqrt(qty/volume), capped at MaxImpact.
func (p *Pipeline) EstimateImpact(qty float64, dailyVolume int64) float64 {
	if !p.cfg.MarketImpact || dailyVolume <= 0 || qty <= 0 {
		return 0
	}
	return math.Min(p.cfg.MaxImpact, p.cfg.ImpactFactor*math.Sqrt(qty/float64(dailyVolume)))
}

// Apply executes fill at the slippage-adjusted price.
func (p *Pipeline) Apply(fill domain.Fill, side domain.OrderSide) (TradeRecord, error) {
	return p.execute(fill, side, fill.Qty, 0)
}

// MaxChunks bounds how many child trades one fill is split into.
const MaxChunks = 50

// ApplyWithImpact executes fill with market impact. Quantities above the
// chunk participation of dailyVolume are split into sequential chunks of at
// least one share and at most MaxChunks of them, each paying additional
// decaying impact. Records executed before an error are
// returned with it.
func (p *Pipeline) ApplyWithImpact(fill domain.Fill, side domain.OrderSide, dailyVolume int64) ([]TradeRecord, error) {
	if !p.cfg.MarketImpact || dailyVolume <= 0 {
		rec, err := p.Apply(fill, side)
		if err != nil {
			return nil, err
		}
		return []TradeRecord{rec}, nil
	}

	chunk := math.Max(p.cfg.ChunkParticipation*float64(dailyVolume), 1)
	if n := math.Ceil(fill.Qty / chunk); n > MaxChunks {
		chunk = math.Ceil(fill.Qty / MaxChunks)
	}
	if fill.Qty <= chunk {
		rec, err := p.execute(fill, side, fill.Qty, p.EstimateImpact(fill.Qty, dailyVolume))
		if err != nil {
			return nil, err
		}
		return []TradeRecord{rec}, nil
	}

	var (
		records   []TradeRecord
		remaining = fill.Qty
		extra     float64
	)
	for i := 0; remaining > 1e-9; i++ {
		qty := math.Min(chunk, remaining)
		if i > 0 {
			extra += math.Pow(p.cfg.ChunkDecay, float64(i))
		}
		impact := math.Min(p.cfg.MaxImpact, p.EstimateImpact(qty, dailyVolume)*(1+extra))
		rec, err := p.execute(fill, side, qty, impact)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
		remaining -= qty
	}
	return records, nil
}

func (p *Pipeline) execute(fill domain.Fill, side domain.OrderSide, qty, impact float64) (TradeRecord, error) {
	if qty <= 0 || fill.Price <= 0 {
		return TradeRecord{}, fmt.Errorf("execute %s: invalid fill qty=%g price=%g", fill.Symbol, qty, fill.Price)
	}
	price := p.SlippagePrice(side, fill.Price)
	if side == domain.OrderSideBuy {
		price *= 1 + impact
	} else {
		price *= 1 - impact
	}
	commission := p.Commission(qty * price)

	tx, err := p.ledger.ExecuteTrade(fill.Symbol, side.Sign()*qty, price, commission, fill.Timestamp)
	if err != nil {
		return TradeRecord{}, err
	}

	rec := TradeRecord{
		OrderID:     fill.OrderID,
		Symbol:      fill.Symbol,
		Side:        side,
		Qty:         qty,
		MarketPrice: fill.Price,
		Price:       price,
		Commission:  commission,
		Slippage:    math.Abs(price-fill.Price*(1+side.Sign()*impact)) * qty,
		Impact:      math.Abs(fill.Price*impact) * qty,
		RealizedPnL: tx.RealizedPnL,
		Timestamp:   fill.Timestamp,
	}
	p.mu.Lock()
	p.trades = append(p.trades, rec)
	p.mu.Unlock()
	return rec, nil
}

// SetVolume records the current bar volume for symbol; Execute uses it to
// size market impact.
func (p *Pipeline) SetVolume(symbol string, volume int64) {
	p.mu.Lock()
	p.volume[symbol] = volume
	p.mu.Unlock()
}

// Execute settles a proposed order fill and reports the fills actually
// booked. Its signature matches orders.ExecuteFunc.
func (p *Pipeline) Execute(order domain.Order, proposed domain.Fill) ([]domain.Fill, error) {
	p.mu.Lock()
	vol := p.volume[proposed.Symbol]
	p.mu.Unlock()

	records, err := p.ApplyWithImpact(proposed, order.Side, vol)
	fills := make([]domain.Fill, 0, len(records))
	for _, r := range records {
		fills = append(fills, domain.Fill{
			OrderID:    order.ID,
			Symbol:     r.Symbol,
			Side:       r.Side,
			Qty:        r.Qty,
			Price:      r.Price,
			Commission: r.Commission,
			Slippage:   r.Slippage,
			Impact:     r.Impact,
			Timestamp:  r.Timestamp,
		})
	}
	return fills, err
}

// Trades returns a copy of every trade record in execution order.
func (p *Pipeline) Trades() []TradeRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TradeRecord, len(p.trades))
	copy(out, p.trades)
	return out
}

func (p *Pipeline) Totals() Totals {
	p.mu.Lock()
	defer p.mu.Unlock()
	var t Totals
	for _, r := range p.trades {
		t.Trades++
		t.Commission += r.Commission
		t.Slippage += r.Slippage
		t.Impact += r.Impact
	}
	return t
}

package strategy

import (
	"sort"
	"time"

	"stockanalyzer/internal/domain"
)

// Context is the read-only view a strategy receives on each rebalance date.
// Bar history never extends past Date.
type Context struct {
	Date           time.Time
	PortfolioValue float64
	Cash           float64
	Positions      map[string]domain.Position

	history map[string][]domain.Bar
}

// NewContext builds a context. history must already be truncated at date;
// the slices are capacity-limited so appends cannot reach hidden bars.
func NewContext(date time.Time, value, cash float64, positions []domain.Position, history map[string][]domain.Bar) *Context {
	pos := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		pos[p.Symbol] = p
	}
	h := make(map[string][]domain.Bar, len(history))
	for sym, bars := range history {
		h[sym] = bars[:len(bars):len(bars)]
	}
	return &Context{
		Date:           date,
		PortfolioValue: value,
		Cash:           cash,
		Positions:      pos,
		history:        h,
	}
}

// History returns the bars of symbol up to and including Date.
func (c *Context) History(symbol string) []domain.Bar {
	return c.history[symbol]
}

// Latest returns the most recent bar of symbol.
func (c *Context) Latest(symbol string) (domain.Bar, bool) {
	bars := c.history[symbol]
	if len(bars) == 0 {
		return domain.Bar{}, false
	}
	return bars[len(bars)-1], true
}

// Closes returns the last n closing prices of symbol, oldest first. Fewer
// are returned when history is shorter.
func (c *Context) Closes(symbol string, n int) []float64 {
	bars := c.history[symbol]
	if n > len(bars) || n <= 0 {
		n = len(bars)
	}
	out := make([]float64, n)
	for i, b := range bars[len(bars)-n:] {
		out[i] = b.Close
	}
	return out
}

// Symbols returns the symbols with history, sorted.
func (c *Context) Symbols() []string {
	out := make([]string, 0, len(c.history))
	for s := range c.history {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Holding returns the held quantity of symbol, zero when flat.
func (c *Context) Holding(symbol string) float64 {
	return c.Positions[symbol].Qty
}

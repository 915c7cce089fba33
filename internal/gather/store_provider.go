package gather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/store"
)

// StoreProvider serves daily bars from a local BarStore.
type StoreProvider struct {
	bars   store.BarStore
	market string
}

func NewStoreProvider(bars store.BarStore, market domain.Market) *StoreProvider {
	return &StoreProvider{bars: bars, market: string(market)}
}

func (p *StoreProvider) GetBars(ctx context.Context, symbols []string, start, end time.Time, tf Timeframe) (map[string][]domain.Bar, error) {
	if tf != "" && tf != TimeframeDaily {
		return nil, fmt.Errorf("store provider: unsupported timeframe %q", tf)
	}
	out := make(map[string][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := p.bars.ReadBars(ctx, strings.ToUpper(sym), p.market, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", sym, err)
		}
		if len(bars) == 0 {
			continue
		}
		for i := range bars {
			bars[i].Symbol = sym
		}
		SortBars(bars)
		out[sym] = bars
	}
	return out, nil
}

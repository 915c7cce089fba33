// Package gather defines how historical bars enter the system: Providers
// serve bars to the backtest engine and Gatherers populate local storage.
package gather

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockanalyzer/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run starts the data gathering process. It blocks until ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range, inclusive.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Timeframe is the bar resolution requested from a Provider.
type Timeframe string

const (
	TimeframeDaily  Timeframe = "1d"
	TimeframeHourly Timeframe = "1h"
)

func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case "", TimeframeDaily:
		return TimeframeDaily, nil
	case TimeframeHourly:
		return TimeframeHourly, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

// Provider serves historical bars. Returned slices are sorted by timestamp
// ascending; symbols without data are absent from the map.
type Provider interface {
	GetBars(ctx context.Context, symbols []string, start, end time.Time, tf Timeframe) (map[string][]domain.Bar, error)
}

// SortBars orders bars by timestamp in place.
func SortBars(bars []domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
}

// MemoryProvider serves a fixed in-memory data set.
type MemoryProvider struct {
	bars map[string][]domain.Bar
}

// NewMemoryProvider copies and sorts data.
func NewMemoryProvider(data map[string][]domain.Bar) *MemoryProvider {
	m := &MemoryProvider{bars: make(map[string][]domain.Bar, len(data))}
	for sym, bars := range data {
		cp := append([]domain.Bar(nil), bars...)
		SortBars(cp)
		m.bars[sym] = cp
	}
	return m
}

func (m *MemoryProvider) GetBars(ctx context.Context, symbols []string, start, end time.Time, _ Timeframe) (map[string][]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := DateRange{Start: start, End: end}
	out := make(map[string][]domain.Bar)
	for _, sym := range symbols {
		var sel []domain.Bar
		for _, b := range m.bars[sym] {
			if r.Contains(b.Timestamp) {
				sel = append(sel, b)
			}
		}
		if len(sel) > 0 {
			out[sym] = sel
		}
	}
	return out, nil
}

// Package us fetches US equity bars from the Alpaca market-data API, both as
// a backtest data provider and as a backfill gatherer for local storage.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/util"
)

var _ gather.Provider = (*AlpacaProvider)(nil)

const (
	defaultBatchSize = 100
	fetchAttempts    = 3
	retryDelay       = 2 * time.Second
)

// barsClient is the part of the Alpaca market-data client the provider uses.
type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaProvider serves split and dividend adjusted bars from Alpaca.
// Requests are split into symbol batches, throttled by a per-minute rate
// limit and retried on failure.
type AlpacaProvider struct {
	client    barsClient
	feed      string
	batchSize int
	backoff   time.Duration
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// NewAlpacaProvider creates a provider for the given credentials. An empty
// dataURL uses the client default.
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string, rateLimitPerMin int) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), feed, defaultBatchSize, rateLimitPerMin)
}

func newAlpacaProvider(client barsClient, feed string, batchSize, rateLimitPerMin int) *AlpacaProvider {
	if feed == "" {
		feed = "iex"
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}
	return &AlpacaProvider{
		client:    client,
		feed:      feed,
		batchSize: batchSize,
		backoff:   retryDelay,
		limiter:   util.NewRateLimiter(rateLimitPerMin),
		log:       slog.Default().With("provider", "alpaca"),
	}
}

// GetBars fetches bars for symbols in [start, end]. Symbols are upper-cased;
// those Alpaca has no bars for are absent from the result.
func (p *AlpacaProvider) GetBars(ctx context.Context, symbols []string, start, end time.Time, tf gather.Timeframe) (map[string][]domain.Bar, error) {
	frame, err := alpacaTimeFrame(tf)
	if err != nil {
		return nil, err
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	out := make(map[string][]domain.Bar, len(upper))
	for i := 0; i < len(upper); i += p.batchSize {
		batch := upper[i:min(i+p.batchSize, len(upper))]
		bars, err := p.fetch(ctx, batch, start, end, frame)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			out[b.Symbol] = append(out[b.Symbol], b)
		}
	}
	for _, bars := range out {
		gather.SortBars(bars)
	}
	return out, nil
}

// fetch requests one batch, waiting on the rate limiter before every attempt.
func (p *AlpacaProvider) fetch(ctx context.Context, symbols []string, start, end time.Time, frame marketdata.TimeFrame) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var bars []domain.Bar
	err := util.Retry(ctx, fetchAttempts, p.backoff, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		multi, err := p.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  frame,
			Adjustment: marketdata.All,
			Start:      start,
			End:        end,
			Feed:       p.feed,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return util.Permanent(err)
			}
			p.log.Warn("GetMultiBars failed", "symbols", len(symbols), "err", err)
			return err
		}
		bars = convertBars(multi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	return bars, nil
}

func alpacaTimeFrame(tf gather.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case "", gather.TimeframeDaily:
		return marketdata.OneDay, nil
	case gather.TimeframeHourly:
		return marketdata.OneHour, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca: unsupported timeframe %q", tf)
}

func convertBars(multi map[string][]marketdata.Bar) []domain.Bar {
	var bars []domain.Bar
	for symbol, alpacaBars := range multi {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars
}

// Package app holds the wiring shared by the stockanalyzer commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"stockanalyzer/internal/config"
	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/engine"
	"stockanalyzer/internal/gather"
	"stockanalyzer/internal/gather/clickhouse"
	"stockanalyzer/internal/gather/us"
	"stockanalyzer/internal/store"
	"stockanalyzer/internal/util"
)

// Defaults maps the configured backtest defaults onto an engine config.
// Dates, symbols and strategy are left for the request to fill.
func Defaults(cfg *config.Config) engine.Config {
	b := cfg.Backtest
	return engine.Config{
		InitialCapital:      b.InitialCapital,
		CommissionRate:      b.CommissionRate,
		SlippageRate:        b.SlippageRate,
		BenchmarkSymbol:     b.BenchmarkSymbol,
		MaxPositionPct:      b.MaxPositionPct,
		MaxDailyLossPct:     b.MaxDailyLossPct,
		ExecutionDelay:      b.ExecutionDelay,
		MarketImpact:        b.MarketImpact,
		AllowShort:          b.AllowShort,
		VolumeParticipation: b.VolumeParticipation,
		RiskFreeRate:        b.RiskFreeRate,
	}
}

// ClickHouseOptions converts the ClickHouse config section.
func ClickHouseOptions(cfg *config.Config) clickhouse.Options {
	c := cfg.ClickHouse
	return clickhouse.Options{
		Addr:     c.Addr,
		Database: c.Database,
		Table:    c.Table,
		Username: c.Username,
		Password: c.Password,
		Market:   domain.MarketUS,
	}
}

// OpenProvider builds the bar provider named by cfg.Backtest.Source. The
// returned close func releases any connection the provider holds.
func OpenProvider(ctx context.Context, cfg *config.Config) (gather.Provider, func() error, error) {
	noop := func() error { return nil }
	switch src := strings.ToLower(cfg.Backtest.Source); src {
	case "", "store", "parquet":
		return gather.NewStoreProvider(store.NewParquetStore(cfg.Storage.DataDir), domain.MarketUS), noop, nil
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, nil, fmt.Errorf("alpaca source requires api_key and api_secret")
		}
		p := us.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
			cfg.Alpaca.Feed, cfg.Gather.USDaily.RateLimitPerMin)
		return p, noop, nil
	case "clickhouse":
		ch, err := clickhouse.Open(ctx, ClickHouseOptions(cfg))
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown bar source %q", src)
	}
}

// Observability sets up the default logger on logW and the tracer from
// cfg.Logging. Spans go to spanW when tracing is enabled.
func Observability(cfg *config.Config, logW, spanW io.Writer) (*slog.Logger, trace.Tracer, func(context.Context) error, error) {
	if spanW == nil {
		spanW = os.Stderr
	}
	logger := util.NewWriterLogger(logW, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	tracer, shutdown, err := util.InitTracing(cfg.Logging.Tracing, spanW)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init tracing: %w", err)
	}
	return logger, tracer, shutdown, nil
}

package app

import (
	"bytes"
	"context"
	"testing"

	"stockanalyzer/internal/config"
	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.CommissionRate = 0.001
	cfg.Backtest.AllowShort = true

	got := Defaults(cfg)
	if got.InitialCapital != 100000 || got.CommissionRate != 0.001 || !got.AllowShort {
		t.Errorf("Defaults = %+v", got)
	}
	if got.MaxPositionPct != 0.1 {
		t.Errorf("MaxPositionPct = %v, want 0.1", got.MaxPositionPct)
	}
	if len(got.Symbols) != 0 || !got.Start.IsZero() {
		t.Error("Defaults should leave symbols and dates empty")
	}
}

func TestOpenProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	p, closeFn, err := OpenProvider(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := p.(*gather.StoreProvider); !ok {
		t.Errorf("provider = %T, want *gather.StoreProvider", p)
	}

	cfg.Backtest.Source = "alpaca"
	if _, _, err := OpenProvider(context.Background(), cfg); err == nil {
		t.Error("alpaca without credentials should fail")
	}

	cfg.Backtest.Source = "ftp"
	if _, _, err := OpenProvider(context.Background(), cfg); err == nil {
		t.Error("unknown source should fail")
	}
}

func TestClickHouseOptions(t *testing.T) {
	cfg := config.Default()
	cfg.ClickHouse.Table = "daily"
	opts := ClickHouseOptions(cfg)
	if opts.Addr != "localhost:9000" || opts.Table != "daily" || opts.Market != domain.MarketUS {
		t.Errorf("ClickHouseOptions = %+v", opts)
	}
}

func TestObservabilityDisabledTracing(t *testing.T) {
	cfg := config.Default()
	var logs, spans bytes.Buffer
	logger, tracer, shutdown, err := Observability(cfg, &logs, &spans)
	if err != nil {
		t.Fatal(err)
	}
	if logger == nil || tracer == nil {
		t.Fatal("nil logger or tracer")
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if spans.Len() != 0 {
		t.Errorf("disabled tracing wrote %d bytes", spans.Len())
	}
	logger.Info("ready")
	if !bytes.Contains(logs.Bytes(), []byte(`"msg":"ready"`)) {
		t.Errorf("log output = %q", logs.String())
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockanalyzer.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/sa/data"
  sqlite_path: "/tmp/sa/sa.db"
server:
  host: "127.0.0.1"
  port: 8181
  grpc_port: 9191
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
clickhouse:
  addr: "ch:9000"
  table: "daily_bars"
logging:
  level: "debug"
  format: "text"
  tracing:
    enabled: true
    service_name: "sa-test"
backtest:
  source: "clickhouse"
  initial_capital: 50000
  commission_rate: 0.001
  execution_delay: 1
  allow_short: true
sweep:
  workers: 8
gather:
  us_daily:
    start_date: "2021-01-01"
    symbols: ["AAPL", "MSFT"]
    batch_size: 50
    sink: "clickhouse"
`)

	// Clear any environment overrides that might interfere.
	for _, k := range []string{"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "APCA_API_KEY_ID", "CLICKHOUSE_ADDR", "LOG_LEVEL", "BACKTEST_SOURCE", "LOG_TRACING_ENABLED"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/sa/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/sa/data")
	}
	if cfg.Server.Port != 8181 || cfg.Server.GRPCPort != 9191 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want default %q", cfg.Alpaca.Feed, "iex")
	}
	if cfg.ClickHouse.Addr != "ch:9000" || cfg.ClickHouse.Table != "daily_bars" || cfg.ClickHouse.Database != "default" {
		t.Errorf("ClickHouse = %+v", cfg.ClickHouse)
	}
	if !cfg.Logging.Tracing.Enabled || cfg.Logging.Tracing.ServiceName != "sa-test" {
		t.Errorf("Logging.Tracing = %+v", cfg.Logging.Tracing)
	}
	if cfg.Backtest.Source != "clickhouse" || cfg.Backtest.InitialCapital != 50000 {
		t.Errorf("Backtest = %+v", cfg.Backtest)
	}
	if cfg.Backtest.MaxPositionPct != 0.1 {
		t.Errorf("Backtest.MaxPositionPct = %v, want default 0.1", cfg.Backtest.MaxPositionPct)
	}
	if !cfg.Backtest.AllowShort || cfg.Backtest.ExecutionDelay != 1 {
		t.Errorf("Backtest = %+v", cfg.Backtest)
	}
	if cfg.Sweep.Workers != 8 {
		t.Errorf("Sweep.Workers = %d, want 8", cfg.Sweep.Workers)
	}
	if got := cfg.Gather.USDaily.Symbols; len(got) != 2 || got[1] != "MSFT" {
		t.Errorf("Gather.USDaily.Symbols = %v", got)
	}
	if g := cfg.Gather.USDaily; g.Sink != "clickhouse" || g.Sessions != "local" || g.MaxWorkers != 4 {
		t.Errorf("Gather.USDaily = %+v", g)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  data_dir: /from/file\n")
	t.Setenv("DATA_DIR", "/from/env")
	t.Setenv("ALPACA_API_KEY", "ours")
	t.Setenv("APCA_API_KEY_ID", "canonical")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("BACKTEST_SOURCE", "ALPACA")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DataDir != "/from/env" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Alpaca.APIKey != "canonical" {
		t.Errorf("APIKey = %q, want APCA value", cfg.Alpaca.APIKey)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Backtest.Source != "alpaca" {
		t.Errorf("Source = %q", cfg.Backtest.Source)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Backtest.InitialCapital != 100000 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("STOCKANALYZER_CONFIG", "")
	if Path() != DefaultPath {
		t.Errorf("Path() = %q", Path())
	}
	t.Setenv("STOCKANALYZER_CONFIG", "/etc/sa.yaml")
	if Path() != "/etc/sa.yaml" {
		t.Errorf("Path() = %q", Path())
	}
}

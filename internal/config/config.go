package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"stockanalyzer/internal/util"
)

// DefaultPath is used when $STOCKANALYZER_CONFIG is unset.
const DefaultPath = "config/stockanalyzer.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtest service and tools.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
	Logging    Logging    `yaml:"logging"`
	Backtest   Backtest   `yaml:"backtest"`
	Sweep      Sweep      `yaml:"sweep"`
	Gather     Gather     `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	BaseURL   string `yaml:"base_url"`
	Feed      string `yaml:"feed"`
}

// ClickHouse locates a bar table in ClickHouse.
type ClickHouse struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Logging configures the application logger and span export.
type Logging struct {
	Level   string             `yaml:"level"`
	Format  string             `yaml:"format"`
	Tracing util.TracingConfig `yaml:"tracing"`
}

// Backtest holds defaults applied to backtest requests that leave a field
// unset. Source selects the bar provider: "store", "alpaca" or "clickhouse".
type Backtest struct {
	Source              string  `yaml:"source"`
	InitialCapital      float64 `yaml:"initial_capital"`
	CommissionRate      float64 `yaml:"commission_rate"`
	SlippageRate        float64 `yaml:"slippage_rate"`
	BenchmarkSymbol     string  `yaml:"benchmark_symbol"`
	MaxPositionPct      float64 `yaml:"max_position_pct"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"`
	ExecutionDelay      int     `yaml:"execution_delay"`
	MarketImpact        bool    `yaml:"market_impact"`
	AllowShort          bool    `yaml:"allow_short"`
	VolumeParticipation float64 `yaml:"volume_participation"`
	RiskFreeRate        float64 `yaml:"risk_free_rate"`
}

// Sweep bounds parameter sweep concurrency.
type Sweep struct {
	Workers int `yaml:"workers"`
}

// Gather controls the bar backfill job.
type Gather struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job. Sink is
// "parquet" or "clickhouse"; Sessions is "local" or "alpaca".
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date"`
	Symbols         []string `yaml:"symbols"`
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	Sink            string   `yaml:"sink"`
	Sessions        string   `yaml:"sessions"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/stockanalyzer.db"},
		Server:  Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Alpaca:  Alpaca{Feed: "iex"},
		ClickHouse: ClickHouse{
			Addr:     "localhost:9000",
			Database: "default",
			Table:    "bars",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Backtest: Backtest{
			Source:              "store",
			InitialCapital:      100000,
			MaxPositionPct:      0.1,
			MaxDailyLossPct:     0.05,
			VolumeParticipation: 0.1,
		},
		Sweep: Sweep{Workers: 4},
		Gather: Gather{USDaily: GatherJobConfig{
			StartDate:       "2020-01-01",
			BatchSize:       100,
			MaxWorkers:      4,
			RateLimitPerMin: 200,
			Sink:            "parquet",
			Sessions:        "local",
		}},
	}
}

// Path returns $STOCKANALYZER_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("STOCKANALYZER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the defaults
// and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (still subject to environment overrides).
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	// Standard Alpaca env vars win over ours.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("CLICKHOUSE_ADDR"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		cfg.ClickHouse.Username = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Tracing.Enabled = b
		}
	}
	if v := os.Getenv("BACKTEST_SOURCE"); v != "" {
		cfg.Backtest.Source = strings.ToLower(v)
	}
}

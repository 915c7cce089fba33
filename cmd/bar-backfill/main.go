package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stockanalyzer/internal/app"
	"stockanalyzer/internal/config"
	"stockanalyzer/internal/gather/clickhouse"
	"stockanalyzer/internal/gather/us"
	"stockanalyzer/internal/store"
	"stockanalyzer/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config file")
	symbols := flag.String("symbols", "", "comma separated symbols (default from config)")
	start := flag.String("start", "", "first date to backfill, YYYY-MM-DD (default from config)")
	sink := flag.String("sink", "", "where bars are written: parquet or clickhouse")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	job := cfg.Gather.USDaily
	if *symbols != "" {
		job.Symbols = strings.Split(*symbols, ",")
	}
	if *start != "" {
		job.StartDate = *start
	}
	if *sink != "" {
		job.Sink = *sink
	}
	if len(job.Symbols) == 0 {
		log.Fatal("no symbols to backfill")
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca api_key and api_secret are required")
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/bar-backfill-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()
	util.SetDefault(util.NewWriterLogger(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, "text"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var bars store.BarStore
	switch strings.ToLower(job.Sink) {
	case "", "parquet":
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	case "clickhouse":
		ch, err := clickhouse.Open(ctx, app.ClickHouseOptions(cfg))
		if err != nil {
			log.Fatalf("failed to connect to clickhouse: %v", err)
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to create bar table: %v", err)
		}
		bars = ch
	default:
		log.Fatalf("unknown sink %q", job.Sink)
	}

	sessions := us.LocalSessions()
	if strings.EqualFold(job.Sessions, "alpaca") {
		sessions = us.AlpacaSessions(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}

	provider := us.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		cfg.Alpaca.Feed, job.RateLimitPerMin)
	backfiller := us.NewBackfiller(provider, bars, us.BackfillConfig{
		Symbols:    job.Symbols,
		StartDate:  job.StartDate,
		BatchSize:  job.BatchSize,
		MaxWorkers: job.MaxWorkers,
		StateDir:   filepath.Join(cfg.Storage.DataDir, "us", ".backfill", strings.ToLower(job.Sink)),
		Sessions:   sessions,
	})

	slog.Info("starting bar-backfill", "logFile", logFileName, "symbols", len(job.Symbols), "sink", job.Sink, "start", job.StartDate)
	if err := backfiller.Run(ctx); err != nil {
		log.Fatalf("backfill error: %v", err)
	}
}

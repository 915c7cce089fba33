package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stockanalyzer/internal/api"
	"stockanalyzer/internal/app"
	"stockanalyzer/internal/config"
	"stockanalyzer/internal/engine"
	"stockanalyzer/internal/store"
	"stockanalyzer/internal/strategy/builtins"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config file")
	source := flag.String("source", "", "bar source override: store, alpaca or clickhouse")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *source != "" {
		cfg.Backtest.Source = *source
	}

	logger, tracer, shutdownTracing, err := app.Observability(cfg, os.Stdout, os.Stderr)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(ctx)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, closeProvider, err := app.OpenProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open bar source: %v", err)
	}
	defer closeProvider()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("failed to create database dir: %v", err)
	}
	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer results.Close()

	parquet := store.NewParquetStore(cfg.Storage.DataDir)
	var bars store.BarStore = parquet
	if bs, ok := provider.(store.BarStore); ok {
		bars = bs
	}

	eng := engine.NewEngine(provider, engine.WithLogger(logger), engine.WithTracer(tracer))
	srv := api.NewServer(api.Options{
		Engine:   eng,
		Runs:     engine.NewRunManager(logger),
		Registry: builtins.NewRegistry(),
		Defaults: app.Defaults(cfg),
		Results:  results,
		Exporter: parquet,
		Bars:     bars,
		Logger:   logger,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	grpcAddr := ""
	if cfg.Server.GRPCPort > 0 {
		grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}

	slog.Info("starting backtest-server", "http", httpAddr, "grpc", grpcAddr, "source", cfg.Backtest.Source)
	if err := srv.ListenAndServe(ctx, httpAddr, grpcAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("backtest-server stopped")
}

// Package api serves backtests over HTTP, a progress WebSocket and gRPC.
// All three surfaces share one RunManager, so a run started over gRPC can
// be watched from the WebSocket and fetched over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"stockanalyzer/internal/engine"
	"stockanalyzer/internal/execution"
	"stockanalyzer/internal/portfolio"
	"stockanalyzer/internal/store"
	"stockanalyzer/internal/strategy"
)

// Exporter writes a run's equity and trades somewhere durable and returns
// the location. store.ParquetStore implements it.
type Exporter interface {
	ExportResult(runID string, equity []portfolio.Snapshot, trades []execution.TradeRecord) (string, error)
}

// Options configure a Server. Results, Exporter and Bars are optional;
// Bars backs symbol listing.
type Options struct {
	Engine   *engine.Engine
	Runs     *engine.RunManager
	Registry *strategy.Registry
	Defaults engine.Config
	Results  store.ResultStore
	Exporter Exporter
	Bars     store.BarStore
	Logger   *slog.Logger
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	engine   *engine.Engine
	runs     *engine.RunManager
	registry *strategy.Registry
	defaults engine.Config
	results  store.ResultStore
	exporter Exporter
	bars     store.BarStore
	hub      *Hub
	health   *health.Server
	log      *slog.Logger

	// baseCtx parents every run so runs outlive the request that started
	// them.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	subID   int

	// storeMu orders result saves against purges.
	storeMu sync.Mutex

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	runs := opts.Runs
	if runs == nil {
		runs = engine.NewRunManager(log)
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		engine:   opts.Engine,
		runs:     runs,
		registry: opts.Registry,
		defaults: opts.Defaults,
		results:  opts.Results,
		exporter: opts.Exporter,
		bars:     opts.Bars,
		health:   health.NewServer(),
		log:      log.With("component", "api"),
		baseCtx:  ctx,
		stop:     stop,
	}
	s.hub = NewHub(s.log)
	var events <-chan engine.Snapshot
	s.subID, events = runs.Subscribe(256)
	go s.hub.Run(ctx, events)
	return s
}

// Runs exposes the run manager shared by all surfaces.
func (s *Server) Runs() *engine.RunManager { return s.runs }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until ctx is
// cancelled or a listener fails. An empty address disables that listener.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	errCh := make(chan error, 2)

	if httpAddr != "" {
		s.httpSrv = &http.Server{
			Addr:              httpAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.log.Info("http listening", "addr", httpAddr)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		s.grpcSrv = s.GRPCServer()
		go func() {
			s.log.Info("grpc listening", "addr", grpcAddr)
			if err := s.grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.log.Error("listener failed", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(shutdownCtx)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the listeners, cancels unfinished runs and waits for
// their results to be persisted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	s.runs.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown timed out waiting for runs")
	}
	s.stop()
	s.runs.Unsubscribe(s.subID)
	s.hub.Close()
	return err
}

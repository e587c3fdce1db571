// Package runtime owns the ordered startup sequence: telemetry, model
// provisioning, engine initialization, stores and bus, then the HTTP
// listener. Nothing is served until every earlier stage has succeeded.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verba-labs/verba-core/internal/asr"
	"github.com/verba-labs/verba-core/internal/bus"
	"github.com/verba-labs/verba-core/internal/config"
	"github.com/verba-labs/verba-core/internal/natsserver"
	"github.com/verba-labs/verba-core/internal/provision"
	"github.com/verba-labs/verba-core/internal/server"
	"github.com/verba-labs/verba-core/internal/transcripts"
)

type Runtime struct {
	cfg    config.Config
	log    *slog.Logger
	ready  atomic.Bool
	wg     sync.WaitGroup
	closer func(context.Context) error
}

func New(cfg config.Config, log *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, log: log}
}

// Start runs the daemon until ctx is cancelled. Any startup failure aborts
// before the API socket is opened.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.log)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.closer = shutdownTelemetry

	if err := provision.Ensure(ctx, r.cfg.Model, r.log); err != nil {
		return fmt.Errorf("provision model: %w", err)
	}

	engine, err := asr.Initialize(r.cfg.ASR, r.log)
	if err != nil {
		return fmt.Errorf("initialize recognition engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			r.log.Error("engine close error", slog.String("error", err.Error()))
		}
	}()

	store, err := transcripts.Open(ctx, r.cfg.Transcripts, r.log)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	var publisher server.Publisher
	var busClient *bus.Client
	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.log)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(r.cfg.Bus, r.log)
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		defer busClient.Close()
		publisher = busClient
	}

	api := server.New(engine, store, publisher, r.log)

	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/", api.Routes())

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	apiServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	var metricsServer *http.Server
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.log.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.log.Info("verbad started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.log.Info("verbad stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		r.log.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.log.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.closer != nil {
		if err := r.closer(shutdownCtx); err != nil {
			r.log.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// handleReady reports full readiness: provisioning and engine initialization
// complete, listener accepting. Distinct from /health, which is liveness only.
func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

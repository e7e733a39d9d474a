// Command orchestrator mirrors bus events (agent results, release
// decisions) into durable storage and drives job-status transitions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/config"
	"github.com/fairyhunter13/ci-release-arbiter/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	msgBus, err := bus.New(cfg.RedisURL)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = msgBus.Close() }()

	orch := orchestrator.New(
		postgres.NewJobRepo(pool),
		postgres.NewAgentResultRepo(pool),
		postgres.NewReleaseDecisionRepo(pool),
		msgBus,
	)

	consumerOpts := []bus.ConsumerOption{
		bus.WithBlockTimeout(cfg.BusBlockTimeout),
		bus.WithClaimIdle(cfg.BusClaimIdleTimeout),
		bus.WithErrorBackoff(cfg.BusErrorBackoff),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := orch.AgentResultsConsumer(consumerOpts...).Run(ctx); err != nil {
			slog.Error("agent results consumer stopped", slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := orch.ReleaseDecisionsConsumer(consumerOpts...).Run(ctx); err != nil {
			slog.Error("release decisions consumer stopped", slog.Any("error", err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","service":"` + cfg.OTELServiceName + `"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.OrchestratorHost, cfg.OrchestratorPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("orchestrator health server starting", slog.String("addr", srvHTTP.Addr))
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("orchestrator health server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	wg.Wait()
}

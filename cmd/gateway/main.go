// Command gateway starts the HTTP API that accepts code-review submissions
// and serves job status reads.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/ci-release-arbiter/internal/adapter/httpserver"
	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ci-release-arbiter/internal/app"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/config"
	"github.com/fairyhunter13/ci-release-arbiter/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
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

	jobRepo := postgres.NewJobRepo(pool)
	resultRepo := postgres.NewAgentResultRepo(pool)
	decisionRepo := postgres.NewReleaseDecisionRepo(pool)

	creator := usecase.NewCreateJobService(jobRepo, msgBus)
	queries := usecase.NewJobQueryService(jobRepo, resultRepo, decisionRepo)

	dbCheck, busCheck := app.BuildReadinessChecks(pool, msgBus)

	srv := httpserver.NewServer(cfg, creator, queries, dbCheck, busCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.GatewayHost, cfg.GatewayPort),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting", slog.String("addr", srvHTTP.Addr))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// Command arbiter aggregates per-job analyzer verdicts into one weighted
// release decision and publishes it to the bus.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/arbiter"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/config"
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

	msgBus, err := bus.New(cfg.RedisURL)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = msgBus.Close() }()

	a := arbiter.New(msgBus, cfg.ArbiterWaitTimeout())

	consumerOpts := []bus.ConsumerOption{
		bus.WithBlockTimeout(cfg.BusBlockTimeout),
		bus.WithClaimIdle(cfg.BusClaimIdleTimeout),
		bus.WithErrorBackoff(cfg.BusErrorBackoff),
	}

	done := make(chan error, 1)
	go func() {
		done <- a.Consumer("", consumerOpts...).Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","service":"` + cfg.OTELServiceName + `"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ArbiterHost, cfg.ArbiterPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("arbiter health server starting", slog.String("addr", srvHTTP.Addr))
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("arbiter health server error", slog.Any("error", err))
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-done:
		if err != nil {
			slog.Error("arbiter consumer stopped", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

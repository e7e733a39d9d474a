// Command agent runs one analyzer (diff, intent, security, performance, or
// test) against the code_analysis_requested stream, selected by AGENT_NAME.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/analyzer"
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

	all := analyzer.ByName()
	a, ok := all[strings.ToLower(cfg.AgentName)]
	if !ok {
		names := make([]string, 0, len(all))
		for n := range all {
			names = append(names, n)
		}
		sort.Strings(names)
		slog.Error("unknown AGENT_NAME", slog.String("agent_name", cfg.AgentName), slog.Any("valid_names", names))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgBus, err := bus.New(cfg.RedisURL)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = msgBus.Close() }()

	worker := analyzer.NewWorker(msgBus, a, cfg.AgentTimeout(), int64(cfg.MaxRetries))

	consumerOpts := []bus.ConsumerOption{
		bus.WithBlockTimeout(cfg.BusBlockTimeout),
		bus.WithClaimIdle(cfg.BusClaimIdleTimeout),
		bus.WithErrorBackoff(cfg.BusErrorBackoff),
		bus.WithConcurrency(cfg.ConsumerMaxConcurrency),
	}

	done := make(chan error, 1)
	go func() {
		done <- worker.Consumer("", consumerOpts...).Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","service":"` + cfg.OTELServiceName + `","agent":"` + a.Name() + `"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.AgentHost, cfg.AgentPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("agent health server starting", slog.String("addr", srvHTTP.Addr), slog.String("agent", a.Name()))
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("agent health server error", slog.Any("error", err))
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-done:
		if err != nil {
			slog.Error("agent consumer stopped", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

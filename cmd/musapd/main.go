// Command musapd runs a MUSAP instance as an agent: it enrolls with MUSAP
// Link, answers polled signature requests and serves Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/methics/musap-ios-sub000/internal/bootstrap"
	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/monitoring"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.SetGlobalLogger(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error(context.Background(), "musapd failed", err)
		stop()
		os.Exit(1)
	}
	appLogger.Info(context.Background(), "musapd stopped")
}

func run(ctx context.Context, cfg *config.Config, appLogger logger.Logger) error {
	rt, err := bootstrap.New(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to start MUSAP runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Close(shutdownCtx)
	}()

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Listen, rt, appLogger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	link, err := rt.Service.Enroll(ctx, cfg.Link.URL, cfg.Link.PushToken)
	if err != nil {
		return fmt.Errorf("failed to enroll with %s: %w", cfg.Link.URL, err)
	}
	appLogger.Info(ctx, "Enrolled with Link", logger.String("musap_id", link.MusapID))

	newAgent(rt.Service, cfg.Link.RequestInterval, appLogger).Run(ctx)
	return nil
}

func startMetricsServer(addr string, rt *bootstrap.Runtime, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info(context.Background(), "Metrics server listening", logger.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(context.Background(), "Metrics server failed", err)
		}
	}()
	return srv
}

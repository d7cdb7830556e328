// Package bootstrap wires a MUSAP instance from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/methics/musap-ios-sub000/internal/application"
	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/audit"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/crypto"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/kms"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/link"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/monitoring"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/storage"
	"github.com/methics/musap-ios-sub000/internal/sscd"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// Runtime is a fully wired MUSAP instance.
type Runtime struct {
	Config   *config.Config
	Service  *application.MusapService
	Metrics  *monitoring.Metrics
	Registry *prometheus.Registry
	Logger   logger.Logger

	closers []func(context.Context) error
}

// New opens storage, enables the configured backends and builds the service.
// The caller must Close the runtime.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   log,
	}
	ready := false
	defer func() {
		if !ready {
			_ = rt.Close(ctx)
		}
	}()

	// Initialize storage
	kv, err := storage.NewKeyValueStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	rt.onClose(func(context.Context) error { return kv.Close() })

	store := storage.NewMetadataStore(kv, log)
	links := storage.NewLinkStore(kv)
	secrets := storage.NewSecretStore(kv)

	// Initialize observability
	rt.Metrics = monitoring.NewMetrics(rt.Registry)
	tracer, err := monitoring.NewTracingManager(cfg.Tracing, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.onClose(tracer.Shutdown)

	events := audit.NewPublisher(cfg.Events, log)
	rt.onClose(func(context.Context) error { return events.Close() })

	// Initialize Link
	keys, err := crypto.NewKeyGenerator(secrets, cfg.Link.TransportKeyLength, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}
	linkClient := link.NewClient(cfg.Link, links, keys, log, link.WithMetrics(rt.Metrics))

	// Enable backends
	registry := sscd.NewRegistry(store, log)
	deps := kms.Dependencies{Secrets: secrets, Link: linkClient, Logger: log}
	for _, name := range cfg.Sscd.Enabled {
		backend, err := kms.NewSscd(name, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create sscd %q: %w", name, err)
		}
		if c, ok := backend.(io.Closer); ok {
			rt.onClose(func(context.Context) error { return c.Close() })
		}
		// Stored keys reference their sscd by id, so ids must survive restarts.
		if err := registry.Enable(ctx, backend, strings.ToLower(name)); err != nil {
			return nil, fmt.Errorf("failed to enable sscd %q: %w", name, err)
		}
	}

	tasks := application.NewTasks(registry, store, links, linkClient, log,
		application.WithEvents(events),
		application.WithMetrics(rt.Metrics),
		application.WithTracing(tracer),
	)
	requests := application.NewRequestHandler(tasks, cfg.Sscd.DefaultKeygen, log)
	rt.Service = application.NewMusapService(tasks, requests, log)

	ready = true
	log.Info(ctx, "MUSAP runtime ready",
		logger.String("storage", cfg.Storage.Driver),
		logger.Int("sscds", len(cfg.Sscd.Enabled)),
	)
	return rt, nil
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.Logger.Error(ctx, "Failed to release resource", err)
			if first == nil {
				first = err
			}
		}
	}
	rt.closers = nil
	return first
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/cache"
	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/config"
	"github.com/fleetworks/searchd/internal/embeddings"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/httpapi"
	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/rewrite"
	"github.com/fleetworks/searchd/internal/search"
	"github.com/fleetworks/searchd/internal/store"
	"github.com/fleetworks/searchd/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search daemon",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Observability.Enabled,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	if cfg.Lexicon.Path == "" {
		return fmt.Errorf("lexicon path is required")
	}
	provider, err := lexicon.NewProvider(cfg.Lexicon.Path, logger)
	if err != nil {
		return fmt.Errorf("loading lexicon: %w", err)
	}
	defer func() { _ = provider.Close() }()
	if cfg.Lexicon.Watch {
		if err := provider.Watch(ctx); err != nil {
			logger.Warn(ctx, "lexicon watch disabled", zap.Error(err))
		}
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	st, err := store.NewFromConfig(cfg.VectorStore, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer func() { _ = st.Close() }()

	requestCache := cache.New(cfg.Cache.TTL.Duration(), cfg.Cache.MaxEntries)
	natsCleanup := startInvalidation(ctx, cfg, requestCache, logger)
	defer natsCleanup()

	var fallback extract.FallbackClient
	if cfg.Extraction.Fallback.Enabled {
		fallback, err = extract.NewLLMFallback(extract.FallbackConfig{
			BaseURL:   cfg.Extraction.Fallback.BaseURL,
			Model:     cfg.Extraction.Fallback.Model,
			APIKey:    cfg.Extraction.Fallback.APIKey.Value(),
			Timeout:   cfg.Extraction.Fallback.Timeout.Duration(),
			RateLimit: cfg.Extraction.Fallback.RateLimit,
			Burst:     cfg.Extraction.Fallback.Burst,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating fallback extractor: %w", err)
		}
	}

	rewriter, err := rewrite.New(rewrite.Config{
		Enabled:          cfg.Rewrite.Enabled,
		MaxRewrites:      cfg.Rewrite.MaxRewrites,
		Budget:           cfg.Rewrite.Budget.Duration(),
		BaseURL:          cfg.Extraction.Fallback.BaseURL,
		Model:            cfg.Extraction.Fallback.Model,
		APIKey:           cfg.Extraction.Fallback.APIKey.Value(),
		EmbeddingVersion: cfg.Embeddings.Version,
	}, requestCache, logger)
	if err != nil {
		return fmt.Errorf("creating rewriter: %w", err)
	}

	registry := capability.NewDefaultRegistry()
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := search.New(*cfg, search.Deps{
		Lexicon:  provider,
		Store:    st,
		Cache:    requestCache,
		Fallback: fallback,
		Rewriter: rewriter,
		Registry: registry,
		Logger:   logger,
		Metrics:  search.NewMetrics(promRegistry),
		Tracer:   tel.Tracer("searchd"),
	})
	if err != nil {
		return fmt.Errorf("creating search service: %w", err)
	}

	prober := capability.NewProber(registry, st, logger)
	server, err := httpapi.NewServer(svc, prober, promRegistry, logger, httpapi.Config{
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadConfig loads configuration from the --config file or environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadWithFile(path)
	}
	return config.Load()
}

// buildEmbedder selects the embedding backend. The in-memory store pairs
// with the deterministic local embedder so it needs no network at all.
func buildEmbedder(cfg *config.Config) (store.Embedder, error) {
	if cfg.VectorStore.Provider == "memory" {
		return embeddings.NewLocal(256), nil
	}
	svc, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey.Value(),
		Version: cfg.Embeddings.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}
	return svc, nil
}

// startInvalidation connects the cache to the NATS change-notification
// subject. Failures degrade: the cache still works, entries just age out
// by TTL instead of being invalidated eagerly.
func startInvalidation(ctx context.Context, cfg *config.Config, c *cache.Cache, logger *logging.Logger) func() {
	url := cfg.NATS.URL
	var embedded *natsserver.Server

	if cfg.NATS.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{
			Host:   "127.0.0.1",
			Port:   -1,
			NoLog:  true,
			NoSigs: true,
		})
		if err != nil {
			logger.Warn(ctx, "embedded NATS unavailable", zap.Error(err))
			return func() {}
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			logger.Warn(ctx, "embedded NATS not ready")
			srv.Shutdown()
			return func() {}
		}
		embedded = srv
		url = srv.ClientURL()
	}

	if url == "" {
		return func() {}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		logger.Warn(ctx, "cache invalidation disabled", zap.Error(err))
		if embedded != nil {
			embedded.Shutdown()
		}
		return func() {}
	}

	sub := cache.NewSubscriber(nc, c, logger)
	if err := sub.Start(ctx, cfg.NATS.Subject); err != nil {
		logger.Warn(ctx, "cache invalidation disabled", zap.Error(err))
	}

	return func() {
		_ = sub.Close()
		nc.Close()
		if embedded != nil {
			embedded.Shutdown()
			embedded.WaitForShutdown()
		}
	}
}

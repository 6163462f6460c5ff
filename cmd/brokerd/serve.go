package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/config"
	"github.com/fyrsmithlabs/brokerd/internal/events"
	"github.com/fyrsmithlabs/brokerd/internal/experiment"
	brokerdhttp "github.com/fyrsmithlabs/brokerd/internal/http"
	"github.com/fyrsmithlabs/brokerd/internal/logging"
	"github.com/fyrsmithlabs/brokerd/internal/performance"
	"github.com/fyrsmithlabs/brokerd/internal/routing"
	"github.com/fyrsmithlabs/brokerd/internal/specialty"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// run starts the brokerd server and blocks until the context is cancelled.
//
// Initialization order:
//  1. Logger
//  2. Stores (PostgreSQL when DATABASE_URL is set, in-memory otherwise)
//  3. NATS event publisher (optional)
//  4. Capacity tracker, specialty matcher, performance analyzer
//  5. Experiment engine and routing service
//  6. Metrics recompute scheduler
//  7. HTTP server with graceful shutdown
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("starting brokerd",
		zap.Int("port", cfg.Server.Port),
		zap.String("service", cfg.Observability.ServiceName),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.Bool("postgres", cfg.Database.URL != ""),
		zap.Bool("nats_connected", deps.natsConn != nil))

	tracker := capacity.NewTracker(deps.stores.Capacity, deps.stores.Assignments, logger,
		capacity.WithDefaultMaxCapacity(cfg.Capacity.DefaultMax))
	matcher, err := newMatcher(ctx, cfg, deps.stores, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize specialty matcher: %w", err)
	}
	analyzer := performance.NewAnalyzer(deps.stores, logger)
	engine := experiment.NewEngine(deps.stores.Experiments, nil, logger,
		experiment.WithPublisher(deps.publisher))
	probe := experiment.NewRatioProbe(cfg.Routing.ProbeRate, nil)

	scorer := routing.NewScorer(matcher, deps.stores.Metrics, tracker, logger)
	router := routing.NewService(
		deps.stores,
		scorer,
		tracker,
		engine,
		probe,
		deps.publisher,
		routing.NewMetrics(logger),
		logger,
		routing.WithBatchRateLimit(cfg.Routing.BatchRateLimit),
		routing.WithDefaultStrategy(cfg.Routing.DefaultStrategy),
	)

	scheduler, err := performance.NewRecomputeScheduler(analyzer, logger,
		performance.WithInterval(cfg.Routing.RecomputeEvery))
	if err != nil {
		return fmt.Errorf("failed to create recompute scheduler: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start recompute scheduler: %w", err)
	}
	defer scheduler.Stop()

	srv, err := brokerdhttp.NewServer(router, tracker, analyzer, engine, deps.stores.Metrics, logger, &brokerdhttp.Config{
		Host:          "",
		Port:          cfg.Server.Port,
		EnableMetrics: cfg.Observability.EnableMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	}
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	stores    *store.Stores
	storeDone func()
	natsConn  *nats.Conn
	publisher events.Publisher
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.storeDone != nil {
		d.storeDone()
	}
}

// newMatcher builds the specialty matcher. With an embedding service
// configured it indexes the broker roster into a semantic index; without
// one matching falls back to exact specialty overlap.
func newMatcher(ctx context.Context, cfg *config.Config, stores *store.Stores, logger *zap.Logger) (*specialty.Matcher, error) {
	if cfg.Specialty.EmbeddingURL == "" {
		return specialty.NewMatcher(nil, logger), nil
	}

	embedder, err := specialty.NewTEIEmbedder(cfg.Specialty.EmbeddingURL)
	if err != nil {
		return nil, err
	}
	index, err := specialty.NewSemanticIndex(embedder, logger)
	if err != nil {
		return nil, err
	}

	brokers, err := stores.Brokers.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing brokers for specialty index: %w", err)
	}
	if err := index.IndexRoster(ctx, brokers); err != nil {
		return nil, fmt.Errorf("indexing broker specialties: %w", err)
	}

	logger.Info("semantic specialty matching enabled",
		zap.String("embedding_url", cfg.Specialty.EmbeddingURL))
	return specialty.NewMatcher(index, logger), nil
}

// initDependencies connects storage and messaging. Both are optional:
// with no DATABASE_URL the daemon runs on in-memory stores, and with no
// NATS_URL decision events are dropped.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{publisher: events.NopPublisher{}}

	if cfg.Database.URL != "" {
		stores, done, err := store.NewPostgresStores(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		deps.stores = stores
		deps.storeDone = done
		logger.Info("connected to postgres")
	} else {
		deps.stores = store.NewMemoryStores()
		logger.Warn("no DATABASE_URL set, using in-memory stores")
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		publisher, err := events.NewNATSPublisher(nc, logger)
		if err != nil {
			nc.Close()
			deps.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		deps.natsConn = nc
		deps.publisher = publisher
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return deps, nil
}

// migrate applies the database schema.
func migrate(ctx context.Context, connString string) error {
	if err := store.Migrate(ctx, connString); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Println("schema applied")
	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/api"
	"github.com/platinummonkey/tierflow/pkg/async"
	"github.com/platinummonkey/tierflow/pkg/backend"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/config"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/planchange"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tierflow: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "tierflow").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tierflow stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancel()

	tp, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	rdb, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return err
	}
	logger.Info("Connected to Redis")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	catalog, err := buildCatalog(watchCtx, cfg.Catalog, db, metrics, logger)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.URL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	}, logger.WithField("component", "backend"))
	if err != nil {
		return err
	}

	store := billing.NewPostgresStore(db)
	var (
		subscriptions billing.SubscriptionReader = client
		passengers    allowance.Passengers       = client
	)
	if cfg.Backend.RecordSource == config.RecordSourcePostgres {
		subscriptions = store
		passengers = allowance.NewPostgresPassengers(db)
	}

	clock := clockwork.NewRealClock()
	events := payment.NewRedisEventSource(rdb, logger.WithField("component", "charge-events"))
	sessions := payment.NewRegistry(payment.Deps{
		Issuer:        client,
		Events:        events,
		Charges:       store,
		Subscriptions: subscriptions,
		Config:        cfg.Payment.Session(),
		Clock:         clock,
		Logger:        logger.WithField("component", "payment"),
		Metrics:       metrics,
	}, cfg.Payment.SessionRetention)

	engine := planchange.NewEngine(planchange.Deps{
		Catalog:       catalog,
		Subscriptions: subscriptions,
		Mutations:     client,
		Passengers:    passengers,
		Preview:       client,
		Sessions:      sessions,
		Clock:         clock,
		Logger:        logger.WithField("component", "planchange"),
		Metrics:       metrics,
	}, planchange.Config{MaxCustomQuantity: cfg.Pricing.MaxCustomQuantity})

	drafts := pricing.NewDraftStore(catalog, client, cfg.Pricing.Orchestrator(), cfg.Pricing.MaxDrafts,
		cfg.Pricing.DraftTTL, clock, logger.WithField("component", "drafts"), metrics)

	webhooks := billing.NewWebhookHandler(store, events, cfg.Backend.WebhookSecret, clock,
		logger.WithField("component", "webhooks"))
	if cfg.Backend.WebhookSecret == "" {
		logger.Warn("TIERFLOW_WEBHOOK_SECRET is empty, webhook signatures are not verified")
	}

	server := api.NewServer(api.Deps{
		Engine:            engine,
		Catalog:           catalog,
		Preview:           client,
		Drafts:            drafts,
		Sessions:          sessions,
		Webhooks:          webhooks,
		MaxCustomQuantity: cfg.Pricing.MaxCustomQuantity,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		Logger:            logger,
		Metrics:           metrics,
	})

	health := observability.NewHealthChecker(version)
	health.AddCheck("database", true, observability.DatabaseCheck(db))
	health.AddCheck("redis", true, observability.RedisCheck(rdb))
	observability.RegisterHealthRoutes(server.Router(), health)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(server.Router(), registry)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("payment sessions", func(ctx context.Context) error {
		sessions.CloseAll()
		return nil
	})
	shutdown.RegisterShutdownFunc("quantity drafts", func(ctx context.Context) error {
		drafts.Close()
		return nil
	})
	shutdown.RegisterShutdownFunc("catalog watcher", func(ctx context.Context) error {
		stopWatch()
		return nil
	})
	shutdown.RegisterShutdownFunc("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	shutdown.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return db.Close()
	})
	shutdown.RegisterShutdownFunc("tracer", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting tierflow on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	default:
		return nil
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// buildCatalog loads the catalog once so a broken catalog fails startup, and
// reloads the file source on change while ctx is live
func buildCatalog(ctx context.Context, cfg config.CatalogConfig, db *sql.DB, metrics *observability.Metrics,
	logger *observability.Logger) (plans.Source, error) {
	var source plans.Source
	switch cfg.Source {
	case config.CatalogSourceFile:
		source = plans.NewFileSource(cfg.FilePath)
	default:
		source = plans.NewPostgresSource(db)
	}
	cached := plans.NewCachedSource(source, cfg.CacheTTL)

	cat, err := cached.LoadCatalog(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.Infof("Catalog loaded from %s: %d plans, %d tiers", cfg.Source, len(cat.Plans()), len(cat.Tiers()))

	if cfg.Source == config.CatalogSourceFile && cfg.Watch {
		watchLogger := logger.WithField("component", "catalog-watch")
		async.SafeGo(ctx, 0, "catalog watch", func(ctx context.Context) error {
			return plans.WatchFile(ctx, cfg.FilePath, func() {
				cached.Invalidate()
				metrics.RecordCatalogReload()
				watchLogger.Info("catalog file changed, cache invalidated")
			}, watchLogger)
		})
	}
	return cached, nil
}

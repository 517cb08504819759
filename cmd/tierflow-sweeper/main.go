package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	dbURL       = flag.String("db-url", getEnv("TIERFLOW_DATABASE_URL", "postgres://localhost/tierflow?sslmode=disable"), "PostgreSQL connection URL")
	redisURL    = flag.String("redis-url", getEnv("TIERFLOW_REDIS_URL", "redis://localhost:6379/0"), "Redis URL for charge events")
	schedule    = flag.String("schedule", getEnv("TIERFLOW_SWEEP_SCHEDULE", "@every 1m"), "Cron schedule for the charge sweep")
	expiry      = flag.Duration("expiry", getEnvDuration("TIERFLOW_CHARGE_EXPIRY", billing.DefaultChargeExpiry), "Age after which a pending charge is cancelled")
	metricsAddr = flag.String("metrics-addr", getEnv("TIERFLOW_SWEEPER_METRICS_ADDR", ""), "Address to serve /metrics on (empty disables)")
	logLevel    = flag.String("log-level", getEnv("TIERFLOW_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	runOnce     = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	opts, err := redis.ParseURL(*redisURL)
	if err != nil {
		logger.Fatalf("Invalid redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatalf("Failed to ping redis: %v", err)
	}

	events := payment.NewRedisEventSource(rdb, observability.NewLogger(observability.ParseLogLevel(*logLevel), os.Stdout))
	sweeper := billing.NewSweeper(billing.NewPostgresStore(db), events, *expiry, clockwork.NewRealClock())

	var metrics *observability.Metrics
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		router := mux.NewRouter()
		observability.RegisterMetricsEndpoint(router, registry)
		go func() {
			logger.Infof("Serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	if *runOnce {
		if err := runSweep(sweeper, metrics, logger); err != nil {
			logger.Fatalf("Sweep failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		if err := runSweep(sweeper, metrics, logger); err != nil {
			logger.Errorf("Sweep failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule charge sweep: %v", err)
	}

	c.Start()
	logger.Infof("Charge sweeper started (schedule %q, expiry %s)", *schedule, *expiry)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	logger.Info("Sweeper stopped")
}

func runSweep(sweeper *billing.Sweeper, metrics *observability.Metrics, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	metrics.RecordChargesExpired(len(result.Expired))

	if len(result.Expired) == 0 {
		logger.Debug("No stale charges")
		return nil
	}
	logger.WithField("charges", result.Expired).Infof("Expired %d stale charges", len(result.Expired))
	if len(result.Unpublished) > 0 {
		logger.WithField("charges", result.Unpublished).Warnf("Failed to publish %d cancellation events", len(result.Unpublished))
	}
	return nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

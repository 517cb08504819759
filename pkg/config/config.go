package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/pricing"
	"github.com/robfig/cron/v3"
)

// Catalog sources
const (
	CatalogSourcePostgres = "postgres"
	CatalogSourceFile     = "file"
)

// Record sources for subscriptions and passengers
const (
	RecordSourceBackend  = "backend"
	RecordSourcePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Catalog       CatalogConfig
	Pricing       PricingConfig
	Payment       PaymentConfig
	Backend       BackendConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the charge event channel settings
type RedisConfig struct {
	URL      string
	Password string
	PoolSize int
}

// CatalogConfig selects where plans and tiers are loaded from
type CatalogConfig struct {
	Source   string
	FilePath string
	CacheTTL time.Duration
	// Watch reloads the catalog when FilePath changes.
	Watch bool
}

// PricingConfig holds custom quantity settings
type PricingConfig struct {
	MaxCustomQuantity int
	PreviewDebounce   time.Duration
	PreviewTimeout    time.Duration
	DraftTTL          time.Duration
	MaxDrafts         int
}

// Orchestrator converts the settings for the quantity orchestrator
func (p PricingConfig) Orchestrator() pricing.Config {
	return pricing.Config{
		Debounce:     p.PreviewDebounce,
		MaxQuantity:  p.MaxCustomQuantity,
		FetchTimeout: p.PreviewTimeout,
	}
}

// PaymentConfig holds payment session and charge settings
type PaymentConfig struct {
	Window             time.Duration
	PollInterval       time.Duration
	SettleDelay        time.Duration
	AutoContinueDelay  time.Duration
	VerifyMaxAttempts  int
	VerifyInitialDelay time.Duration
	VerifyMaxDelay     time.Duration
	VerifyBackoff      float64
	SessionRetention   time.Duration
	ChargeExpiry       time.Duration
	SweepSchedule      string
}

// Session converts the settings for payment sessions
func (p PaymentConfig) Session() payment.Config {
	return payment.Config{
		PaymentWindow:     p.Window,
		PollInterval:      p.PollInterval,
		SettleDelay:       p.SettleDelay,
		AutoContinueDelay: p.AutoContinueDelay,
		Verify: payment.RetryConfig{
			MaxAttempts:       p.VerifyMaxAttempts,
			InitialDelay:      p.VerifyInitialDelay,
			MaxDelay:          p.VerifyMaxDelay,
			BackoffMultiplier: p.VerifyBackoff,
		},
	}
}

// BackendConfig holds the billing platform client settings
type BackendConfig struct {
	URL           string
	Token         string
	Timeout       time.Duration
	WebhookSecret string
	// RecordSource is where subscriptions and passengers are read from.
	// Mutations always go to the platform.
	RecordSource string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// OTel converts the settings for the tracer provider
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Catalog:       loadCatalogConfig(),
		Pricing:       loadPricingConfig(),
		Payment:       loadPaymentConfig(),
		Backend:       loadBackendConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TIERFLOW_HOST", "0.0.0.0"),
		Port:            getEnv("TIERFLOW_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TIERFLOW_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TIERFLOW_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TIERFLOW_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TIERFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TIERFLOW_MAX_BODY_BYTES", 1<<20),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TIERFLOW_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("TIERFLOW_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("TIERFLOW_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TIERFLOW_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("TIERFLOW_REDIS_URL", "redis://localhost:6379/0"),
		Password: getEnv("TIERFLOW_REDIS_PASSWORD", ""),
		PoolSize: getEnvInt("TIERFLOW_REDIS_POOL_SIZE", 10),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Source:   strings.ToLower(getEnv("TIERFLOW_CATALOG_SOURCE", CatalogSourcePostgres)),
		FilePath: getEnv("TIERFLOW_CATALOG_FILE", ""),
		CacheTTL: getEnvDuration("TIERFLOW_CATALOG_CACHE_TTL", 5*time.Minute),
		Watch:    getEnvBool("TIERFLOW_CATALOG_WATCH", true),
	}
}

func loadPricingConfig() PricingConfig {
	return PricingConfig{
		MaxCustomQuantity: getEnvInt("TIERFLOW_MAX_CUSTOM_QUANTITY", 1000),
		PreviewDebounce:   getEnvDuration("TIERFLOW_PREVIEW_DEBOUNCE", 500*time.Millisecond),
		PreviewTimeout:    getEnvDuration("TIERFLOW_PREVIEW_TIMEOUT", 10*time.Second),
		DraftTTL:          getEnvDuration("TIERFLOW_DRAFT_TTL", 30*time.Minute),
		MaxDrafts:         getEnvInt("TIERFLOW_MAX_DRAFTS", 1024),
	}
}

func loadPaymentConfig() PaymentConfig {
	verify := payment.DefaultRetryConfig()
	return PaymentConfig{
		Window:             getEnvDuration("TIERFLOW_PAYMENT_WINDOW", 600*time.Second),
		PollInterval:       getEnvDuration("TIERFLOW_PAYMENT_POLL_INTERVAL", 3*time.Second),
		SettleDelay:        getEnvDuration("TIERFLOW_PAYMENT_SETTLE_DELAY", 2*time.Second),
		AutoContinueDelay:  getEnvDuration("TIERFLOW_PAYMENT_AUTO_CONTINUE", 5*time.Second),
		VerifyMaxAttempts:  getEnvInt("TIERFLOW_VERIFY_MAX_ATTEMPTS", verify.MaxAttempts),
		VerifyInitialDelay: getEnvDuration("TIERFLOW_VERIFY_INITIAL_DELAY", verify.InitialDelay),
		VerifyMaxDelay:     getEnvDuration("TIERFLOW_VERIFY_MAX_DELAY", verify.MaxDelay),
		VerifyBackoff:      getEnvFloat("TIERFLOW_VERIFY_BACKOFF", verify.BackoffMultiplier),
		SessionRetention:   getEnvDuration("TIERFLOW_SESSION_RETENTION", 15*time.Minute),
		ChargeExpiry:       getEnvDuration("TIERFLOW_CHARGE_EXPIRY", 10*time.Minute),
		SweepSchedule:      getEnv("TIERFLOW_SWEEP_SCHEDULE", "@every 1m"),
	}
}

func loadBackendConfig() BackendConfig {
	return BackendConfig{
		URL:           getEnv("TIERFLOW_BACKEND_URL", ""),
		Token:         getEnv("TIERFLOW_BACKEND_TOKEN", ""),
		Timeout:       getEnvDuration("TIERFLOW_BACKEND_TIMEOUT", 15*time.Second),
		WebhookSecret: getEnv("TIERFLOW_WEBHOOK_SECRET", ""),
		RecordSource:  strings.ToLower(getEnv("TIERFLOW_RECORD_SOURCE", RecordSourceBackend)),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TIERFLOW_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TIERFLOW_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TIERFLOW_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TIERFLOW_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TIERFLOW_OTEL_SERVICE_NAME", "tierflow"),
		OTelServiceVersion: getEnv("TIERFLOW_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TIERFLOW_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TIERFLOW_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend URL is required")
	}

	switch c.Backend.RecordSource {
	case RecordSourceBackend, RecordSourcePostgres:
	default:
		return fmt.Errorf("invalid record source: %s (must be backend or postgres)", c.Backend.RecordSource)
	}

	switch c.Catalog.Source {
	case CatalogSourcePostgres:
	case CatalogSourceFile:
		if c.Catalog.FilePath == "" {
			return fmt.Errorf("catalog file path is required for file catalog source")
		}
	default:
		return fmt.Errorf("invalid catalog source: %s (must be postgres or file)", c.Catalog.Source)
	}

	if c.Pricing.MaxCustomQuantity <= 0 {
		return fmt.Errorf("max custom quantity must be positive")
	}
	if c.Pricing.PreviewDebounce < 0 {
		return fmt.Errorf("preview debounce must not be negative")
	}

	if c.Payment.Window <= 0 {
		return fmt.Errorf("payment window must be positive")
	}
	if c.Payment.PollInterval <= 0 {
		return fmt.Errorf("payment poll interval must be positive")
	}
	if c.Payment.VerifyMaxAttempts <= 0 {
		return fmt.Errorf("verify max attempts must be positive")
	}
	if c.Payment.VerifyBackoff < 1.0 {
		return fmt.Errorf("verify backoff multiplier must be at least 1.0")
	}
	if c.Payment.ChargeExpiry < c.Payment.Window {
		return fmt.Errorf("charge expiry (%s) must not be shorter than the payment window (%s)", c.Payment.ChargeExpiry, c.Payment.Window)
	}
	if _, err := cron.ParseStandard(c.Payment.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.Payment.SweepSchedule, err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

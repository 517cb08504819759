// Package config loads tierflow configuration from environment variables.
//
// # Overview
//
// Every setting has a default; LoadConfig reads the environment, then
// Validate rejects combinations the server cannot run with.
//
// # Configuration Structure
//
// Server settings:
//
//	TIERFLOW_HOST="0.0.0.0"
//	TIERFLOW_PORT="8080"
//	TIERFLOW_SHUTDOWN_TIMEOUT="30s"
//
// Storage and events:
//
//	TIERFLOW_DATABASE_URL="postgres://localhost/tierflow?sslmode=disable"
//	TIERFLOW_REDIS_URL="redis://localhost:6379/0"
//
// Catalog:
//
//	TIERFLOW_CATALOG_SOURCE="postgres"  # postgres or file
//	TIERFLOW_CATALOG_FILE="/etc/tierflow/catalog.yaml"
//	TIERFLOW_CATALOG_CACHE_TTL="5m"
//
// Pricing and payment:
//
//	TIERFLOW_MAX_CUSTOM_QUANTITY="1000"
//	TIERFLOW_PREVIEW_DEBOUNCE="500ms"
//	TIERFLOW_PAYMENT_WINDOW="600s"
//	TIERFLOW_PAYMENT_POLL_INTERVAL="3s"
//	TIERFLOW_VERIFY_MAX_ATTEMPTS="60"
//	TIERFLOW_CHARGE_EXPIRY="10m"
//	TIERFLOW_SWEEP_SCHEDULE="@every 1m"
//
// Billing platform:
//
//	TIERFLOW_BACKEND_URL="https://billing.internal"
//	TIERFLOW_BACKEND_TOKEN="..."
//	TIERFLOW_WEBHOOK_SECRET="..."
//	TIERFLOW_RECORD_SOURCE="backend"  # backend or postgres
//
// Observability settings:
//
//	TIERFLOW_LOG_LEVEL="info"  # debug, info, warn, error
//	TIERFLOW_METRICS_ENABLED="true"
//	TIERFLOW_OTEL_ENABLED="true"
//	TIERFLOW_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	session := cfg.Payment.Session()
//	drafts := cfg.Pricing.Orchestrator()
package config

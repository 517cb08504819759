// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("customer_id", id).Info("plan change applied")
//
// Context-aware logging:
//
//	ctx = observability.WithLogger(ctx, logger)
//	ctx = observability.WithCustomerID(ctx, id)
//	observability.FromContext(ctx).Warn("verification exhausted")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordPlanChange("upgrade", "payment_required")
//
// All Record* helpers are safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker("v1.2.0")
//	checker.AddCheck("database", true, observability.DatabaseCheck(db))
//	checker.AddCheck("redis", false, observability.RedisCheck(client))
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tierflow",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
package observability

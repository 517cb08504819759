package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Plan change metrics
	PlanChangesTotal         *prometheus.CounterVec
	AllowanceRejectionsTotal *prometheus.CounterVec
	InvariantViolationsTotal *prometheus.CounterVec
	PreviewRequestsTotal     *prometheus.CounterVec
	CatalogReloadsTotal      prometheus.Counter

	// Payment metrics
	ChargesIssuedTotal   *prometheus.CounterVec
	ChargesExpiredTotal  prometheus.Counter
	PaymentSignalsTotal  *prometheus.CounterVec
	PaymentSessionsTotal *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	VerificationAttempts prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PlanChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_plan_changes_total",
				Help: "Plan change requests by classification and outcome",
			},
			[]string{"kind", "outcome"},
		),
		AllowanceRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_allowance_rejections_total",
				Help: "Operations blocked by the automated billing allowance",
			},
			[]string{"reason"},
		),
		InvariantViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_allowance_invariant_violations_total",
				Help: "Automated passenger count observed above the contracted allowance",
			},
			[]string{"point"},
		),
		PreviewRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_preview_requests_total",
				Help: "Custom quantity price previews by result",
			},
			[]string{"result"},
		),
		CatalogReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tierflow_catalog_reloads_total",
				Help: "Catalog cache invalidations",
			},
		),
		ChargesIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_charges_issued_total",
				Help: "Instant-payment charges issued by result",
			},
			[]string{"result"},
		),
		ChargesExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tierflow_charges_expired_total",
				Help: "Pending charges cancelled after the payment window",
			},
		),
		PaymentSignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_payment_signals_total",
				Help: "Payment confirmation signals by channel and outcome",
			},
			[]string{"source", "outcome"},
		),
		PaymentSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierflow_payment_sessions_total",
				Help: "Payment sessions by terminal state",
			},
			[]string{"state"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tierflow_payment_sessions_active",
				Help: "Payment sessions currently open",
			},
		),
		VerificationAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tierflow_verification_attempts",
				Help:    "Subscription refreshes needed to observe a paid change",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 40, 60},
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PlanChangesTotal,
		m.AllowanceRejectionsTotal,
		m.InvariantViolationsTotal,
		m.PreviewRequestsTotal,
		m.CatalogReloadsTotal,
		m.ChargesIssuedTotal,
		m.ChargesExpiredTotal,
		m.PaymentSignalsTotal,
		m.PaymentSessionsTotal,
		m.ActiveSessions,
		m.VerificationAttempts,
	)

	return m
}

// RecordPlanChange counts a plan change request
func (m *Metrics) RecordPlanChange(kind, outcome string) {
	if m == nil {
		return
	}
	m.PlanChangesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAllowanceRejection counts an operation blocked by the allowance
func (m *Metrics) RecordAllowanceRejection(reason string) {
	if m == nil {
		return
	}
	m.AllowanceRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordInvariantViolation counts an automated count observed above the allowance
func (m *Metrics) RecordInvariantViolation(point string) {
	if m == nil {
		return
	}
	m.InvariantViolationsTotal.WithLabelValues(point).Inc()
}

// RecordPreview counts a price preview result
func (m *Metrics) RecordPreview(result string) {
	if m == nil {
		return
	}
	m.PreviewRequestsTotal.WithLabelValues(result).Inc()
}

// RecordCatalogReload counts a catalog cache invalidation
func (m *Metrics) RecordCatalogReload() {
	if m == nil {
		return
	}
	m.CatalogReloadsTotal.Inc()
}

// RecordChargeIssued counts a charge issuance attempt
func (m *Metrics) RecordChargeIssued(result string) {
	if m == nil {
		return
	}
	m.ChargesIssuedTotal.WithLabelValues(result).Inc()
}

// RecordChargesExpired counts charges cancelled by the sweeper
func (m *Metrics) RecordChargesExpired(n int) {
	if m == nil {
		return
	}
	m.ChargesExpiredTotal.Add(float64(n))
}

// RecordPaymentSignal counts a confirmation signal from a channel
func (m *Metrics) RecordPaymentSignal(source, outcome string) {
	if m == nil {
		return
	}
	m.PaymentSignalsTotal.WithLabelValues(source, outcome).Inc()
}

// SessionOpened tracks a new payment session
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionFinished tracks a payment session reaching a terminal state or closing
func (m *Metrics) SessionFinished(state string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.PaymentSessionsTotal.WithLabelValues(state).Inc()
}

// RecordVerificationAttempts observes how many refreshes a verification took
func (m *Metrics) RecordVerificationAttempts(n int) {
	if m == nil {
		return
	}
	m.VerificationAttempts.Observe(float64(n))
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelled by route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/planchange"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
)

// PlanChanger runs plan changes; *planchange.Engine implements it
type PlanChanger interface {
	Classify(ctx context.Context, customerID string, sel billing.Selection) (billing.Decision, *billing.Subscription, error)
	RequestChange(ctx context.Context, req planchange.Request) (planchange.Result, error)
	SubmitSelection(ctx context.Context, req planchange.SelectionRequest) (planchange.Result, error)
	Reactivate(ctx context.Context, customerID, passengerID string, mode allowance.ReactivateMode) (allowance.ReactivateResult, error)
	CustomerUpgradeOptions(ctx context.Context, customerID string, required int) ([]plans.UpgradeOption, error)
}

// Drafts holds per-customer quantity drafts; *pricing.DraftStore implements it
type Drafts interface {
	Get(ctx context.Context, customerID string) (*pricing.Orchestrator, error)
	Peek(customerID string) (*pricing.Orchestrator, bool)
	Remove(customerID string)
}

// Sessions looks up live payment sessions; *payment.Registry implements it
type Sessions interface {
	Get(id string) (*payment.Session, bool)
	Remove(id string) bool
}

// WebhookReceiver applies payment rail notifications; *billing.WebhookHandler implements it
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Deps are the server's collaborators
type Deps struct {
	Engine            PlanChanger
	Catalog           plans.Source
	Preview           pricing.PreviewService
	Drafts            Drafts
	Sessions          Sessions
	Webhooks          WebhookReceiver
	MaxCustomQuantity int
	MaxBodyBytes      int64
	Logger            *observability.Logger
	Metrics           *observability.Metrics
}

// Server represents the tierflow API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.MaxCustomQuantity <= 0 {
		deps.MaxCustomQuantity = pricing.DefaultConfig().MaxQuantity
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.router.Use(
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(deps.MaxBodyBytes),
	)
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	s.RegisterRoutes(NewCatalogHandlers(deps.Engine, deps.Catalog, deps.Preview, deps.MaxCustomQuantity))
	s.RegisterRoutes(NewDraftHandlers(deps.Drafts, deps.Engine))
	s.RegisterRoutes(NewChangeHandlers(deps.Engine, deps.Catalog, deps.Preview, deps.MaxCustomQuantity))
	s.RegisterRoutes(NewSessionHandlers(deps.Sessions))
	if deps.Webhooks != nil {
		s.RegisterRoutes(NewWebhookHandlers(deps.Webhooks))
	}
	return s
}

// Router exposes the router so health and metrics routes can be added
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// customerContext tags the request context with the path's customer
func customerContext(w http.ResponseWriter, r *http.Request) (context.Context, string, bool) {
	customerID, ok := httputil.ParsePathStringOrError(w, r, "customer_id")
	if !ok {
		return nil, "", false
	}
	return observability.WithCustomerID(r.Context(), customerID), customerID, true
}

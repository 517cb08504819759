package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
)

// CatalogHandlers serves the catalog, price previews and upgrade options
type CatalogHandlers struct {
	engine   PlanChanger
	catalog  plans.Source
	resolver selectionResolver
}

// NewCatalogHandlers creates a new CatalogHandlers
func NewCatalogHandlers(engine PlanChanger, catalog plans.Source, preview pricing.PreviewService, maxQuantity int) *CatalogHandlers {
	return &CatalogHandlers{
		engine:   engine,
		catalog:  catalog,
		resolver: selectionResolver{catalog: catalog, preview: preview, maxQuantity: maxQuantity},
	}
}

// RegisterRoutes registers catalog routes
func (h *CatalogHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.GetCatalog).Methods(http.MethodGet)
	router.HandleFunc("/pricing/preview", h.PreviewPrice).Methods(http.MethodGet)
	router.HandleFunc("/customers/{customer_id}/options", h.UpgradeOptions).Methods(http.MethodGet)
}

// GetCatalog handles GET /plans?include_inactive=bool
func (h *CatalogHandlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	cat, err := h.catalog.LoadCatalog(r.Context(), !includeInactive)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to load catalog: %w", err))
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, CatalogResponse{Plans: cat.Plans(), Tiers: cat.Tiers()})
}

// PreviewPrice handles GET /pricing/preview?quantity=N
func (h *CatalogHandlers) PreviewPrice(w http.ResponseWriter, r *http.Request) {
	quantity, err := pricing.ParseQuantity(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	quote, err := h.resolver.price(r.Context(), quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, quote)
}

// UpgradeOptions handles GET /customers/{customer_id}/options?required=N.
// Without required the options cover the customer's current usage plus one.
func (h *CatalogHandlers) UpgradeOptions(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	required, err := httputil.ParseQueryInt(r, "required", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if required < 0 {
		writeError(w, r, billing.NewValidationError("required", "must not be negative"))
		return
	}
	options, err := h.engine.CustomerUpgradeOptions(ctx, customerID, required)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if options == nil {
		options = []plans.UpgradeOption{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{"options": options})
}


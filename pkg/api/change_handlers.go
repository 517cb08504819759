package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/planchange"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
)

// ChangeHandlers request plan changes, finish downgrades and reactivate passengers
type ChangeHandlers struct {
	engine   PlanChanger
	resolver selectionResolver
}

// NewChangeHandlers creates a new ChangeHandlers
func NewChangeHandlers(engine PlanChanger, catalog plans.Source, preview pricing.PreviewService, maxQuantity int) *ChangeHandlers {
	return &ChangeHandlers{
		engine:   engine,
		resolver: selectionResolver{catalog: catalog, preview: preview, maxQuantity: maxQuantity},
	}
}

// RegisterRoutes registers change routes
func (h *ChangeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/customers/{customer_id}/changes/classify", h.Classify).Methods(http.MethodPost)
	router.HandleFunc("/customers/{customer_id}/changes", h.RequestChange).Methods(http.MethodPost)
	router.HandleFunc("/customers/{customer_id}/selections", h.SubmitSelection).Methods(http.MethodPost)
	router.HandleFunc("/customers/{customer_id}/passengers/{passenger_id}/reactivate", h.Reactivate).Methods(http.MethodPost)
}

// Classify handles POST /customers/{customer_id}/changes/classify
func (h *ChangeHandlers) Classify(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	var req SelectionBody
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sel, err := h.resolver.resolve(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	decision, sub, err := h.engine.Classify(ctx, customerID, sel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, ClassifyResponse{Decision: decision, Subscription: sub})
}

// RequestChange handles POST /customers/{customer_id}/changes
func (h *ChangeHandlers) RequestChange(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	var req ChangeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sel, err := h.resolver.resolve(ctx, req.SelectionBody)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.engine.RequestChange(ctx, planchange.Request{
		CustomerID: customerID,
		Selection:  sel,
		Confirmed:  req.Confirmed,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, changeStatus(result), result)
}

// SubmitSelection handles POST /customers/{customer_id}/selections
func (h *ChangeHandlers) SubmitSelection(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	var req SelectionSubmit
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sel, err := h.resolver.resolve(ctx, req.SelectionBody)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.engine.SubmitSelection(ctx, planchange.SelectionRequest{
		CustomerID:   customerID,
		Selection:    sel,
		PassengerIDs: req.PassengerIDs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, changeStatus(result), result)
}

// Reactivate handles POST /customers/{customer_id}/passengers/{passenger_id}/reactivate
func (h *ChangeHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	passengerID, ok := httputil.ParsePathStringOrError(w, r, "passenger_id")
	if !ok {
		return
	}
	var req ReactivateRequest
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	switch req.Mode {
	case "":
		req.Mode = allowance.ReactivateKeepAutomation
	case allowance.ReactivateKeepAutomation, allowance.ReactivateWithoutAutomation:
	default:
		writeError(w, r, billing.NewValidationError("mode", "must be %s or %s",
			allowance.ReactivateKeepAutomation, allowance.ReactivateWithoutAutomation))
		return
	}

	result, err := h.engine.Reactivate(ctx, customerID, passengerID, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

// changeStatus picks the response code for a change result. Outcomes that
// leave work for the client are 202.
func changeStatus(result planchange.Result) int {
	switch result.Outcome {
	case planchange.OutcomeApplied, planchange.OutcomeNoop:
		return http.StatusOK
	case planchange.OutcomePaymentRequired:
		return http.StatusCreated
	default:
		return http.StatusAccepted
	}
}

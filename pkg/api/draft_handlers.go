package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/planchange"
)

// DraftHandlers drive the per-customer quantity draft
type DraftHandlers struct {
	drafts Drafts
	engine PlanChanger
}

// NewDraftHandlers creates a new DraftHandlers
func NewDraftHandlers(drafts Drafts, engine PlanChanger) *DraftHandlers {
	return &DraftHandlers{drafts: drafts, engine: engine}
}

// RegisterRoutes registers draft routes
func (h *DraftHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/customers/{customer_id}/draft", h.GetDraft).Methods(http.MethodGet)
	router.HandleFunc("/customers/{customer_id}/draft", h.DiscardDraft).Methods(http.MethodDelete)
	router.HandleFunc("/customers/{customer_id}/draft/quantity", h.SetQuantity).Methods(http.MethodPut)
	router.HandleFunc("/customers/{customer_id}/draft/tier", h.SelectTier).Methods(http.MethodPut)
	router.HandleFunc("/customers/{customer_id}/draft/commit", h.Commit).Methods(http.MethodPost)
}

// GetDraft handles GET /customers/{customer_id}/draft
func (h *DraftHandlers) GetDraft(w http.ResponseWriter, r *http.Request) {
	_, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	draft, found := h.drafts.Peek(customerID)
	if !found {
		httputil.WriteNotFound(w, "no draft for customer")
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, newDraftResponse(draft))
}

// DiscardDraft handles DELETE /customers/{customer_id}/draft
func (h *DraftHandlers) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	_, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	h.drafts.Remove(customerID)
	httputil.WriteNoContent(w)
}

// SetQuantity handles PUT /customers/{customer_id}/draft/quantity. The
// preview is fetched in the background; poll GET draft for the result.
func (h *DraftHandlers) SetQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	var req QuantityInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	draft, err := h.drafts.Get(ctx, customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := draft.SetInput(req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusAccepted, newDraftResponse(draft))
}

// SelectTier handles PUT /customers/{customer_id}/draft/tier
func (h *DraftHandlers) SelectTier(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	var req TierInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	draft, err := h.drafts.Get(ctx, customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := draft.SelectTier(req.TierID); err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, newDraftResponse(draft))
}

// Commit handles POST /customers/{customer_id}/draft/commit. The draft is
// discarded once the change is applied or handed to a payment session.
func (h *DraftHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	ctx, customerID, ok := customerContext(w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	draft, found := h.drafts.Peek(customerID)
	if !found {
		httputil.WriteNotFound(w, "no draft for customer")
		return
	}
	sel, err := draft.Selection()
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
	if result.Outcome == planchange.OutcomeApplied || result.Outcome == planchange.OutcomePaymentRequired {
		h.drafts.Remove(customerID)
	}
	_ = httputil.WriteJSON(w, changeStatus(result), result)
}

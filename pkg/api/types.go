package api

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
)

// SelectionBody names a change target in request bodies
type SelectionBody struct {
	Kind     billing.SelectionKind `json:"kind"`
	PlanID   string                `json:"plan_id,omitempty"`
	TierID   string                `json:"tier_id,omitempty"`
	Quantity int                   `json:"quantity,omitempty"`
}

// ChangeRequest is the body of POST /customers/{customer_id}/changes
type ChangeRequest struct {
	SelectionBody
	Confirmed bool `json:"confirmed"`
}

// SelectionSubmit is the body of POST /customers/{customer_id}/selections
type SelectionSubmit struct {
	SelectionBody
	PassengerIDs []string `json:"passenger_ids"`
}

// ReactivateRequest is the body of the passenger reactivation endpoint
type ReactivateRequest struct {
	Mode allowance.ReactivateMode `json:"mode"`
}

// QuantityInput is the body of PUT /customers/{customer_id}/draft/quantity
type QuantityInput struct {
	Text string `json:"text"`
}

// TierInput is the body of PUT /customers/{customer_id}/draft/tier
type TierInput struct {
	TierID string `json:"tier_id"`
}

// CommitRequest is the body of POST /customers/{customer_id}/draft/commit
type CommitRequest struct {
	Confirmed bool `json:"confirmed"`
}

// CatalogResponse lists the active catalog
type CatalogResponse struct {
	Plans []plans.Plan `json:"plans"`
	Tiers []plans.Tier `json:"tiers"`
}

// ClassifyResponse is a decision without a commit
type ClassifyResponse struct {
	Decision     billing.Decision      `json:"decision"`
	Subscription *billing.Subscription `json:"subscription,omitempty"`
}

// DraftResponse is the state of a quantity draft
type DraftResponse struct {
	TierID   string                `json:"tier_id,omitempty"`
	Quantity int                   `json:"quantity,omitempty"`
	Status   pricing.PreviewStatus `json:"status"`
	Quote    *pricing.Quote        `json:"quote,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func newDraftResponse(o *pricing.Orchestrator) DraftResponse {
	p := o.Preview()
	resp := DraftResponse{
		TierID:   o.TierID(),
		Quantity: p.Quantity,
		Status:   p.Status,
		Quote:    p.Quote,
	}
	if p.Err != nil {
		resp.Error = p.Err.Error()
	}
	return resp
}

// SessionResponse is the state of a payment session
type SessionResponse struct {
	ID               string                 `json:"id"`
	CustomerID       string                 `json:"customer_id"`
	State            payment.State          `json:"state"`
	Charge           *billing.PendingCharge `json:"charge,omitempty"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Outcome          payment.Outcome        `json:"outcome"`
	Error            string                 `json:"error,omitempty"`
}

func newSessionResponse(s *payment.Session) SessionResponse {
	out := s.Outcome()
	resp := SessionResponse{
		ID:               s.ID(),
		CustomerID:       s.CustomerID(),
		State:            s.State(),
		Charge:           s.Charge(),
		RemainingSeconds: int64(s.Remaining() / time.Second),
		Outcome:          out,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

// selectionResolver turns request bodies into selections. Custom quantities
// are priced here so a caller cannot supply its own quote.
type selectionResolver struct {
	catalog     plans.Source
	preview     pricing.PreviewService
	maxQuantity int
}

func (r selectionResolver) resolve(ctx context.Context, body SelectionBody) (billing.Selection, error) {
	switch body.Kind {
	case billing.SelectionPlan:
		if body.PlanID == "" {
			return billing.Selection{}, billing.NewValidationError("plan_id", "is required")
		}
		return billing.SelectPlan(body.PlanID), nil
	case billing.SelectionTier:
		if body.TierID == "" {
			return billing.Selection{}, billing.NewValidationError("tier_id", "is required")
		}
		return billing.SelectTier(body.TierID), nil
	case billing.SelectionCustom:
		quote, err := r.price(ctx, body.Quantity)
		if err != nil {
			return billing.Selection{}, err
		}
		return billing.SelectCustom(body.Quantity, quote.Price), nil
	default:
		return billing.Selection{}, billing.NewValidationError("kind", "must be plan, tier or custom")
	}
}

func (r selectionResolver) price(ctx context.Context, quantity int) (pricing.Quote, error) {
	if quantity <= 0 {
		return pricing.Quote{}, billing.NewValidationError("quantity", "must be greater than zero")
	}
	cat, err := r.catalog.LoadCatalog(ctx, true)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := pricing.ValidateQuantity(cat, quantity, r.maxQuantity); err != nil {
		return pricing.Quote{}, err
	}
	if r.preview == nil {
		return pricing.Quote{}, fmt.Errorf("custom pricing is not available")
	}
	quote, err := r.preview.PreviewPrice(ctx, quantity)
	if err != nil {
		return pricing.Quote{}, err
	}
	if quote.Quantity != 0 && quote.Quantity != quantity {
		return pricing.Quote{}, fmt.Errorf("preview priced %d passengers, asked for %d", quote.Quantity, quantity)
	}
	quote.Quantity = quantity
	return quote, nil
}

package backend

import (
	"context"
	"net/http"

	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/shopspring/decimal"
)

// ActiveSubscription fetches the customer's active subscription
func (c *Client) ActiveSubscription(ctx context.Context, customerID string) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := c.do(ctx, "get subscription", http.MethodGet, customerPath(customerID, "/subscription"), nil, &sub, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

type countResponse struct {
	Count int `json:"count"`
}

// CountAutomated fetches the number of active automated passengers
func (c *Client) CountAutomated(ctx context.Context, customerID string) (int, error) {
	var out countResponse
	if err := c.do(ctx, "count automated", http.MethodGet, customerPath(customerID, "/passengers/automated/count"), nil, &out, nil); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type planRequest struct {
	PlanID string `json:"plan_id"`
}

type tierRequest struct {
	TierID string `json:"tier_id"`
}

type customRequest struct {
	Quantity int `json:"quantity"`
}

type selectionRequest struct {
	Change        *billing.ChangeContext `json:"change,omitempty"`
	PassengerIDs  []string               `json:"passenger_ids"`
	Allowance     int                    `json:"allowance"`
	DowngradeKind billing.DowngradeKind  `json:"downgrade_kind"`
}

// Upgrade moves the customer to a higher plan
func (c *Client) Upgrade(ctx context.Context, customerID, planID string) (billing.CommitResult, error) {
	return c.commit(ctx, "upgrade plan", customerPath(customerID, "/subscription/upgrade"), planRequest{PlanID: planID})
}

// Downgrade moves the customer to a lower plan
func (c *Client) Downgrade(ctx context.Context, customerID, planID string) (billing.CommitResult, error) {
	return c.commit(ctx, "downgrade plan", customerPath(customerID, "/subscription/downgrade"), planRequest{PlanID: planID})
}

// ChangeTier moves the customer to a predefined tier
func (c *Client) ChangeTier(ctx context.Context, customerID, tierID string) (billing.CommitResult, error) {
	return c.commit(ctx, "change tier", customerPath(customerID, "/subscription/tier"), tierRequest{TierID: tierID})
}

// SetCustomAllowance moves the customer to a custom quantity
func (c *Client) SetCustomAllowance(ctx context.Context, customerID string, quantity int) (billing.CommitResult, error) {
	return c.commit(ctx, "set custom allowance", customerPath(customerID, "/subscription/custom"), customRequest{Quantity: quantity})
}

// ConfirmSelection reports the passengers kept after a downgrade
func (c *Client) ConfirmSelection(ctx context.Context, customerID string, change *billing.ChangeContext, passengerIDs []string, allowance int, kind billing.DowngradeKind) (billing.CommitResult, error) {
	if passengerIDs == nil {
		passengerIDs = []string{}
	}
	return c.commit(ctx, "confirm selection", customerPath(customerID, "/subscription/selection"), selectionRequest{
		Change:        change,
		PassengerIDs:  passengerIDs,
		Allowance:     allowance,
		DowngradeKind: kind,
	})
}

func (c *Client) commit(ctx context.Context, op, path string, body any) (billing.CommitResult, error) {
	var out billing.CommitResult
	if err := c.do(ctx, op, http.MethodPost, path, body, &out, nil); err != nil {
		return billing.CommitResult{}, err
	}
	if out.Kind == "" {
		out.Kind = billing.CommitApplied
	}
	return out, nil
}

type chargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// IssueCharge asks the platform for an instant-payment charge. Repeating a
// call with the same key returns the original charge.
func (c *Client) IssueCharge(ctx context.Context, customerID string, amount decimal.Decimal, idempotencyKey string) (billing.PendingCharge, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	var charge billing.PendingCharge
	if err := c.do(ctx, "issue charge", http.MethodPost, customerPath(customerID, "/charges"), chargeRequest{Amount: amount}, &charge, header); err != nil {
		return billing.PendingCharge{}, err
	}
	return charge, nil
}

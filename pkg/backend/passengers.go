package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/pricing"
)

func passengerPath(id string, suffix string) string {
	return "/passengers/" + url.PathEscape(id) + suffix
}

// Passenger fetches one passenger
func (c *Client) Passenger(ctx context.Context, id string) (allowance.Passenger, error) {
	var p allowance.Passenger
	err := c.do(ctx, "get passenger", http.MethodGet, passengerPath(id, ""), nil, &p, nil)
	if isStatus(err, http.StatusNotFound) {
		return allowance.Passenger{}, allowance.ErrPassengerNotFound
	}
	return p, err
}

// ListAutomated lists the customer's active automated passengers
func (c *Client) ListAutomated(ctx context.Context, customerID string) ([]allowance.Passenger, error) {
	var out []allowance.Passenger
	path := customerPath(customerID, "/passengers?active=true&automated=true")
	if err := c.do(ctx, "list passengers", http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

type automationRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutomation toggles automated billing for one passenger
func (c *Client) SetAutomation(ctx context.Context, id string, enabled bool) error {
	err := c.do(ctx, "set automation", http.MethodPut, passengerPath(id, "/automation"), automationRequest{Enabled: enabled}, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return allowance.ErrPassengerNotFound
	}
	return err
}

type reactivateRequest struct {
	KeepAutomation bool `json:"keep_automation"`
}

// Reactivate reactivates a passenger, keeping automation only when asked
func (c *Client) Reactivate(ctx context.Context, id string, keepAutomation bool) error {
	err := c.do(ctx, "reactivate passenger", http.MethodPost, passengerPath(id, "/reactivate"), reactivateRequest{KeepAutomation: keepAutomation}, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return allowance.ErrPassengerNotFound
	}
	return err
}

// PreviewPrice prices a custom quantity
func (c *Client) PreviewPrice(ctx context.Context, quantity int) (pricing.Quote, error) {
	var q pricing.Quote
	path := "/pricing/custom?quantity=" + strconv.Itoa(quantity)
	if err := c.do(ctx, "preview price", http.MethodGet, path, nil, &q, nil); err != nil {
		return pricing.Quote{}, err
	}
	if q.Quantity == 0 {
		q.Quantity = quantity
	}
	if q.Price.IsNegative() {
		return pricing.Quote{}, fmt.Errorf("preview price: negative price %s", q.Price)
	}
	return q, nil
}

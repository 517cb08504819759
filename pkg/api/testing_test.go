package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/planchange"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	cat, err := plans.NewCatalog(
		[]plans.Plan{
			{ID: "essential", Slug: plans.SlugEssential, Name: "Essential", Price: money("25"), Active: true},
			{ID: "complete", Slug: plans.SlugComplete, Name: "Complete", Price: money("50"), Active: true},
		},
		[]plans.Tier{
			{ID: "t10", PlanID: "complete", Allowance: 10, Price: money("90"), Active: true},
			{ID: "t20", PlanID: "complete", Allowance: 20, Price: money("160"), Active: true},
		},
	)
	require.NoError(t, err)
	return cat
}

type sourceFunc func(ctx context.Context, activeOnly bool) (*plans.Catalog, error)

func (f sourceFunc) LoadCatalog(ctx context.Context, activeOnly bool) (*plans.Catalog, error) {
	return f(ctx, activeOnly)
}

// previewFunc prices quantities at 7 per passenger unless fn is set
type previewFunc func(ctx context.Context, quantity int) (pricing.Quote, error)

func (f previewFunc) PreviewPrice(ctx context.Context, quantity int) (pricing.Quote, error) {
	if f != nil {
		return f(ctx, quantity)
	}
	return pricing.Quote{Quantity: quantity, Price: decimal.NewFromInt(int64(quantity * 7))}, nil
}

// mockPlanChanger implements PlanChanger for testing
type mockPlanChanger struct {
	classifyFunc        func(ctx context.Context, customerID string, sel billing.Selection) (billing.Decision, *billing.Subscription, error)
	requestChangeFunc   func(ctx context.Context, req planchange.Request) (planchange.Result, error)
	submitSelectionFunc func(ctx context.Context, req planchange.SelectionRequest) (planchange.Result, error)
	reactivateFunc      func(ctx context.Context, customerID, passengerID string, mode allowance.ReactivateMode) (allowance.ReactivateResult, error)
	optionsFunc         func(ctx context.Context, customerID string, required int) ([]plans.UpgradeOption, error)
}

func (m *mockPlanChanger) Classify(ctx context.Context, customerID string, sel billing.Selection) (billing.Decision, *billing.Subscription, error) {
	if m.classifyFunc != nil {
		return m.classifyFunc(ctx, customerID, sel)
	}
	return billing.Decision{}, nil, errors.New("not implemented")
}

func (m *mockPlanChanger) RequestChange(ctx context.Context, req planchange.Request) (planchange.Result, error) {
	if m.requestChangeFunc != nil {
		return m.requestChangeFunc(ctx, req)
	}
	return planchange.Result{}, errors.New("not implemented")
}

func (m *mockPlanChanger) SubmitSelection(ctx context.Context, req planchange.SelectionRequest) (planchange.Result, error) {
	if m.submitSelectionFunc != nil {
		return m.submitSelectionFunc(ctx, req)
	}
	return planchange.Result{}, errors.New("not implemented")
}

func (m *mockPlanChanger) Reactivate(ctx context.Context, customerID, passengerID string, mode allowance.ReactivateMode) (allowance.ReactivateResult, error) {
	if m.reactivateFunc != nil {
		return m.reactivateFunc(ctx, customerID, passengerID, mode)
	}
	return allowance.ReactivateResult{}, errors.New("not implemented")
}

func (m *mockPlanChanger) CustomerUpgradeOptions(ctx context.Context, customerID string, required int) ([]plans.UpgradeOption, error) {
	if m.optionsFunc != nil {
		return m.optionsFunc(ctx, customerID, required)
	}
	return nil, errors.New("not implemented")
}

// staticSubscriptions never reflects a change, so sessions stay awaiting payment
type staticSubscriptions struct{}

func (staticSubscriptions) ActiveSubscription(ctx context.Context, customerID string) (*billing.Subscription, error) {
	return nil, billing.ErrSubscriptionNotFound
}

func (staticSubscriptions) CountAutomated(ctx context.Context, customerID string) (int, error) {
	return 0, nil
}

// mockWebhookReceiver records webhook deliveries
type mockWebhookReceiver struct {
	handleFunc func(ctx context.Context, payload []byte, signature string) error
}

func (m *mockWebhookReceiver) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, payload, signature)
	}
	return nil
}

type serverFixture struct {
	server   *Server
	engine   *mockPlanChanger
	drafts   *pricing.DraftStore
	sessions *payment.Registry
	webhooks *mockWebhookReceiver
	clock    *clockwork.FakeClock

	activeOnly []bool
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		engine:   &mockPlanChanger{},
		webhooks: &mockWebhookReceiver{},
		clock:    clockwork.NewFakeClock(),
	}
	source := sourceFunc(func(ctx context.Context, activeOnly bool) (*plans.Catalog, error) {
		f.activeOnly = append(f.activeOnly, activeOnly)
		return testCatalog(t), nil
	})
	f.drafts = pricing.NewDraftStore(source, previewFunc(nil), pricing.DefaultConfig(), 16, time.Hour, f.clock, nil, nil)
	t.Cleanup(f.drafts.Close)
	f.sessions = payment.NewRegistry(payment.Deps{Subscriptions: staticSubscriptions{}, Clock: f.clock}, time.Hour)
	t.Cleanup(f.sessions.CloseAll)

	f.server = NewServer(Deps{
		Engine:   f.engine,
		Catalog:  source,
		Preview:  previewFunc(nil),
		Drafts:   f.drafts,
		Sessions: f.sessions,
		Webhooks: f.webhooks,
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

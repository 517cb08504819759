package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, router *mux.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL + "/", Token: "secret"}, observability.NopLogger())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestClient_ActiveSubscription(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/customers/{id}/subscription", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if mux.Vars(r)["id"] != "cust-1" {
			httputil.WriteNotFound(w, "no subscription")
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, billing.Subscription{
			ID:                  "sub-1",
			CustomerID:          "cust-1",
			Active:              true,
			Entitlement:         billing.TierEntitlement("complete", "t10"),
			ContractedAllowance: 10,
			AppliedPrice:        decimal.NewFromInt(90),
			Status:              billing.SubscriptionStatusActive,
		})
	}).Methods(http.MethodGet)
	client := newTestClient(t, router)

	sub, err := client.ActiveSubscription(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "t10", sub.Entitlement.TierID)
	assert.Equal(t, 10, sub.ContractedAllowance)
	assert.True(t, sub.AppliedPrice.Equal(decimal.NewFromInt(90)))

	_, err = client.ActiveSubscription(context.Background(), "cust-2")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestClient_CountAutomated(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/customers/{id}/passengers/automated/count", func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]int{"count": 12})
	})
	client := newTestClient(t, router)

	n, err := client.CountAutomated(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestClient_Mutations(t *testing.T) {
	var bodies []map[string]any
	record := func(kind billing.CommitKind) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			bodies = append(bodies, body)
			_ = httputil.WriteJSON(w, http.StatusOK, billing.CommitResult{Kind: kind})
		}
	}
	router := mux.NewRouter()
	router.HandleFunc("/customers/{id}/subscription/upgrade", record(billing.CommitChargeRequired)).Methods(http.MethodPost)
	router.HandleFunc("/customers/{id}/subscription/downgrade", record(billing.CommitSelectionRequired)).Methods(http.MethodPost)
	router.HandleFunc("/customers/{id}/subscription/tier", record(billing.CommitApplied)).Methods(http.MethodPost)
	router.HandleFunc("/customers/{id}/subscription/custom", record("")).Methods(http.MethodPost)
	router.HandleFunc("/customers/{id}/subscription/selection", record(billing.CommitApplied)).Methods(http.MethodPost)
	client := newTestClient(t, router)
	ctx := context.Background()

	res, err := client.Upgrade(ctx, "cust-1", "complete")
	require.NoError(t, err)
	assert.Equal(t, billing.CommitChargeRequired, res.Kind)

	res, err = client.Downgrade(ctx, "cust-1", "essential")
	require.NoError(t, err)
	assert.Equal(t, billing.CommitSelectionRequired, res.Kind)

	res, err = client.ChangeTier(ctx, "cust-1", "t20")
	require.NoError(t, err)
	assert.Equal(t, billing.CommitApplied, res.Kind)

	res, err = client.SetCustomAllowance(ctx, "cust-1", 25)
	require.NoError(t, err)
	assert.Equal(t, billing.CommitApplied, res.Kind, "empty kind defaults to applied")

	_, err = client.ConfirmSelection(ctx, "cust-1", nil, nil, 20, billing.DowngradeTier)
	require.NoError(t, err)

	require.Len(t, bodies, 5)
	assert.Equal(t, "complete", bodies[0]["plan_id"])
	assert.Equal(t, "essential", bodies[1]["plan_id"])
	assert.Equal(t, "t20", bodies[2]["tier_id"])
	assert.Equal(t, float64(25), bodies[3]["quantity"])
	assert.Equal(t, []any{}, bodies[4]["passenger_ids"])
	assert.Equal(t, float64(20), bodies[4]["allowance"])
	assert.Equal(t, "tier", bodies[4]["downgrade_kind"])
	assert.NotContains(t, bodies[4], "change")
}

func TestClient_RemoteRejection(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/customers/{id}/subscription/tier", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusConflict, "tier is no longer offered")
	})
	router.HandleFunc("/customers/{id}/subscription/custom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	})
	client := newTestClient(t, router)

	_, err := client.ChangeTier(context.Background(), "cust-1", "t20")
	var re *billing.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Equal(t, "tier is no longer offered", re.Message)
	assert.False(t, billing.IsRetryable(err))

	_, err = client.SetCustomAllowance(context.Background(), "cust-1", 25)
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "upstream unavailable", re.Message)
	assert.True(t, billing.IsRetryable(err))
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = client.CountAutomated(context.Background(), "cust-1")
	var re *billing.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 0, re.Status)
	assert.Error(t, re.Err)
}

func TestClient_IssueCharge(t *testing.T) {
	var keys []string
	router := mux.NewRouter()
	router.HandleFunc("/customers/{id}/charges", func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(IdempotencyKeyHeader))
		var body chargeRequest
		require.NoError(t, httputil.ParseJSON(r, &body))
		_ = httputil.WriteJSON(w, http.StatusCreated, billing.PendingCharge{
			ID:         "ch-1",
			CustomerID: mux.Vars(r)["id"],
			Amount:     body.Amount,
			Payload:    "000201...",
			Status:     billing.ChargeStatusPendingPayment,
		})
	}).Methods(http.MethodPost)
	client := newTestClient(t, router)

	charge, err := client.IssueCharge(context.Background(), "cust-1", decimal.RequireFromString("23.33"), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "ch-1", charge.ID)
	assert.Equal(t, "cust-1", charge.CustomerID)
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("23.33")))
	assert.Equal(t, []string{"session-1"}, keys)
}

func TestClient_Passengers(t *testing.T) {
	var toggled []automationRequest
	var reactivated []reactivateRequest
	router := mux.NewRouter()
	router.HandleFunc("/passengers/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != "p1" {
			httputil.WriteNotFound(w, "passenger not found")
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, allowance.Passenger{ID: "p1", CustomerID: "cust-1", Name: "Ana", Active: true})
	}).Methods(http.MethodGet)
	router.HandleFunc("/customers/{id}/passengers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("automated"))
		_ = httputil.WriteJSON(w, http.StatusOK, []allowance.Passenger{{ID: "p1", AutomatedBilling: true}})
	}).Methods(http.MethodGet)
	router.HandleFunc("/passengers/{id}/automation", func(w http.ResponseWriter, r *http.Request) {
		var body automationRequest
		require.NoError(t, httputil.ParseJSON(r, &body))
		toggled = append(toggled, body)
		httputil.WriteNoContent(w)
	}).Methods(http.MethodPut)
	router.HandleFunc("/passengers/{id}/reactivate", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "gone" {
			httputil.WriteNotFound(w, "passenger not found")
			return
		}
		var body reactivateRequest
		require.NoError(t, httputil.ParseJSON(r, &body))
		reactivated = append(reactivated, body)
		httputil.WriteNoContent(w)
	}).Methods(http.MethodPost)
	client := newTestClient(t, router)
	ctx := context.Background()

	p, err := client.Passenger(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)

	_, err = client.Passenger(ctx, "p9")
	assert.ErrorIs(t, err, allowance.ErrPassengerNotFound)

	list, err := client.ListAutomated(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, client.SetAutomation(ctx, "p1", false))
	assert.Equal(t, []automationRequest{{Enabled: false}}, toggled)

	require.NoError(t, client.Reactivate(ctx, "p1", true))
	assert.Equal(t, []reactivateRequest{{KeepAutomation: true}}, reactivated)

	assert.ErrorIs(t, client.Reactivate(ctx, "gone", false), allowance.ErrPassengerNotFound)
}

func TestClient_PreviewPrice(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/pricing/custom", func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{"price": "175", "per_charge": "7"})
	}).Methods(http.MethodGet)
	client := newTestClient(t, router)

	q, err := client.PreviewPrice(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, 25, q.Quantity)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(175)))
	assert.True(t, q.PerCharge.Equal(decimal.NewFromInt(7)))
}

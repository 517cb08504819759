package billing

import (
	"testing"
	"time"

	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	limit := 5
	cat, err := plans.NewCatalog(
		[]plans.Plan{
			{ID: "free", Slug: plans.SlugFree, Name: "Free", Price: decimal.Zero, PassengerLimit: &limit},
			{ID: "essential", Slug: plans.SlugEssential, Name: "Essential", Price: money("25"), Allowance: 0},
			{ID: "complete", Slug: plans.SlugComplete, Name: "Complete", Price: money("50")},
		},
		[]plans.Tier{
			{ID: "t5", PlanID: "complete", Allowance: 5, Price: money("50")},
			{ID: "t10", PlanID: "complete", Allowance: 10, Price: money("90")},
			{ID: "t20", PlanID: "complete", Allowance: 20, Price: money("160")},
		},
	)
	require.NoError(t, err)
	return cat
}

func tierSub(tierID string, allowance int, price string) *Subscription {
	due := time.Date(2026, 10, 27, 0, 0, 0, 0, time.UTC)
	return &Subscription{
		ID:                  "sub-1",
		CustomerID:          "cust-1",
		Active:              true,
		Entitlement:         TierEntitlement("complete", tierID),
		ContractedAllowance: allowance,
		AppliedPrice:        money(price),
		DueDate:             &due,
		Status:              SubscriptionStatusActive,
	}
}

func customSub(quantity int, price string) *Subscription {
	sub := tierSub("", quantity, price)
	sub.Entitlement = CustomEntitlement("complete", quantity)
	return sub
}

func planSub(planID string, price string) *Subscription {
	sub := tierSub("", 0, price)
	sub.Entitlement = PlanEntitlement(planID)
	return sub
}

package plans

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func samplePlans() []Plan {
	limit := 10
	return []Plan{
		{ID: "complete", Slug: SlugComplete, Name: "Complete", Price: price("50"), Active: true},
		{ID: "free", Slug: SlugFree, Name: "Free", Price: decimal.Zero, PassengerLimit: &limit, Active: true},
		{ID: "essential", Slug: SlugEssential, Name: "Essential", Price: price("25"), Active: true},
	}
}

func sampleTiers() []Tier {
	return []Tier{
		{ID: "t20", PlanID: "complete", Allowance: 20, Price: price("160"), Active: true},
		{ID: "t5", PlanID: "complete", Allowance: 5, Price: price("50"), Active: true},
		{ID: "t10", PlanID: "complete", Allowance: 10, Price: price("90"), Active: true},
	}
}

func TestNewCatalog(t *testing.T) {
	c, err := NewCatalog(samplePlans(), sampleTiers())
	require.NoError(t, err)

	plans := c.Plans()
	require.Len(t, plans, 3)
	assert.Equal(t, SlugFree, plans[0].Slug)
	assert.Equal(t, SlugEssential, plans[1].Slug)
	assert.Equal(t, SlugComplete, plans[2].Slug)

	tiers := c.Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, []int{5, 10, 20}, []int{tiers[0].Allowance, tiers[1].Allowance, tiers[2].Allowance})

	tier, ok := c.Tier("t10")
	require.True(t, ok)
	assert.Equal(t, 10, tier.Allowance)

	_, ok = c.Plan("missing")
	assert.False(t, ok)

	assert.True(t, c.HasTiers("complete"))
	assert.False(t, c.HasTiers("essential"))
}

func TestNewCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		plans []Plan
		tiers []Tier
	}{
		{
			name:  "duplicate allowance with different price",
			plans: samplePlans(),
			tiers: []Tier{
				{ID: "a", PlanID: "complete", Allowance: 10, Price: price("90")},
				{ID: "b", PlanID: "complete", Allowance: 10, Price: price("95")},
			},
		},
		{
			name:  "price decreases with allowance",
			plans: samplePlans(),
			tiers: []Tier{
				{ID: "a", PlanID: "complete", Allowance: 10, Price: price("90")},
				{ID: "b", PlanID: "complete", Allowance: 20, Price: price("80")},
			},
		},
		{
			name:  "tier under non-complete plan",
			plans: samplePlans(),
			tiers: []Tier{{ID: "a", PlanID: "essential", Allowance: 10, Price: price("90")}},
		},
		{
			name:  "tier with unknown parent",
			plans: samplePlans(),
			tiers: []Tier{{ID: "a", PlanID: "ghost", Allowance: 10, Price: price("90")}},
		},
		{
			name:  "unknown slug",
			plans: []Plan{{ID: "x", Slug: "platinum"}},
		},
		{
			name:  "duplicate plan id",
			plans: []Plan{{ID: "x", Slug: SlugFree}, {ID: "x", Slug: SlugEssential}},
		},
		{
			name:  "passenger limit on paid plan",
			plans: []Plan{{ID: "x", Slug: SlugEssential, PassengerLimit: new(int)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.plans, tt.tiers)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestCatalog_PromoPriceMonotonicity(t *testing.T) {
	promo := price("40")
	tiers := []Tier{
		{ID: "a", PlanID: "complete", Allowance: 5, Price: price("50"), PromoPrice: &promo},
		{ID: "b", PlanID: "complete", Allowance: 10, Price: price("45")},
	}
	c, err := NewCatalog(samplePlans(), tiers)
	require.NoError(t, err)
	assert.True(t, c.Tiers()[0].EffectivePrice().Equal(price("40")))
}

func TestCatalog_MinCustomQuantity(t *testing.T) {
	c, err := NewCatalog(samplePlans(), sampleTiers())
	require.NoError(t, err)

	minQty, err := c.MinCustomQuantity()
	require.NoError(t, err)
	assert.Equal(t, 21, minQty)

	empty, err := NewCatalog(samplePlans(), nil)
	require.NoError(t, err)
	_, err = empty.MinCustomQuantity()
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestCatalog_TierLookups(t *testing.T) {
	c, err := NewCatalog(samplePlans(), sampleTiers())
	require.NoError(t, err)

	tier, ok := c.TierForAllowance(10)
	require.True(t, ok)
	assert.Equal(t, "t10", tier.ID)

	_, ok = c.TierForAllowance(7)
	assert.False(t, ok)

	tier, ok = c.SmallestTierCovering(7)
	require.True(t, ok)
	assert.Equal(t, "t10", tier.ID)

	_, ok = c.SmallestTierCovering(21)
	assert.False(t, ok)
}

func TestPlan_EffectivePrice(t *testing.T) {
	promo := price("19.90")
	p := Plan{Price: price("25"), PromoPrice: &promo}
	assert.True(t, p.EffectivePrice().Equal(promo))

	p.PromoPrice = nil
	assert.True(t, p.EffectivePrice().Equal(price("25")))
}

func TestRankOf(t *testing.T) {
	assert.Equal(t, RankFree, RankOf(SlugFree))
	assert.Equal(t, RankEssential, RankOf(SlugEssential))
	assert.Equal(t, RankComplete, RankOf(SlugComplete))
	assert.Equal(t, RankUnknown, RankOf("other"))
}

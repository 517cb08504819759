package plans

import (
	"fmt"
	"sort"
)

// Catalog is an immutable, validated view of plans and tiers
type Catalog struct {
	plans     []Plan
	tiers     []Tier
	plansByID map[string]Plan
	tiersByID map[string]Tier
}

// NewCatalog validates plans and tiers and builds a catalog.
// Tiers are sorted by allowance. Duplicate allowances or tiers whose price
// decreases as allowance grows are rejected with a ConfigError.
func NewCatalog(plans []Plan, tiers []Tier) (*Catalog, error) {
	c := &Catalog{
		plansByID: make(map[string]Plan, len(plans)),
		tiersByID: make(map[string]Tier, len(tiers)),
	}

	for _, p := range plans {
		if p.ID == "" {
			return nil, configErrorf("plan with empty id")
		}
		if p.Rank() == RankUnknown {
			return nil, configErrorf("plan %s has unknown slug %q", p.ID, p.Slug)
		}
		if _, dup := c.plansByID[p.ID]; dup {
			return nil, configErrorf("duplicate plan id %s", p.ID)
		}
		if p.PassengerLimit != nil && p.Rank() != RankFree {
			return nil, configErrorf("plan %s: passenger limit is only allowed on the free plan", p.ID)
		}
		c.plansByID[p.ID] = p
		c.plans = append(c.plans, p)
	}

	for _, t := range tiers {
		if t.ID == "" {
			return nil, configErrorf("tier with empty id")
		}
		if _, dup := c.tiersByID[t.ID]; dup {
			return nil, configErrorf("duplicate tier id %s", t.ID)
		}
		parent, ok := c.plansByID[t.PlanID]
		if !ok {
			return nil, configErrorf("tier %s references unknown plan %s", t.ID, t.PlanID)
		}
		if parent.Rank() != RankComplete {
			return nil, configErrorf("tier %s is nested under %s plan %s", t.ID, parent.Slug, parent.ID)
		}
		if t.Allowance <= 0 {
			return nil, configErrorf("tier %s has non-positive allowance %d", t.ID, t.Allowance)
		}
		c.tiersByID[t.ID] = t
		c.tiers = append(c.tiers, t)
	}

	sort.SliceStable(c.plans, func(i, j int) bool {
		return c.plans[i].Rank() < c.plans[j].Rank()
	})
	sort.SliceStable(c.tiers, func(i, j int) bool {
		return c.tiers[i].Allowance < c.tiers[j].Allowance
	})

	for i := 1; i < len(c.tiers); i++ {
		prev, cur := c.tiers[i-1], c.tiers[i]
		if prev.Allowance == cur.Allowance {
			return nil, configErrorf("tiers %s and %s share allowance %d", prev.ID, cur.ID, cur.Allowance)
		}
		if cur.EffectivePrice().LessThan(prev.EffectivePrice()) {
			return nil, configErrorf("tier %s (allowance %d) is cheaper than tier %s (allowance %d)",
				cur.ID, cur.Allowance, prev.ID, prev.Allowance)
		}
	}

	return c, nil
}

// Plans returns plans ordered by rank
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Tiers returns tiers ordered by allowance ascending
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Plan looks up a plan by id
func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.plansByID[id]
	return p, ok
}

// Tier looks up a tier by id
func (c *Catalog) Tier(id string) (Tier, bool) {
	t, ok := c.tiersByID[id]
	return t, ok
}

// PlanBySlug returns the first plan of the given family
func (c *Catalog) PlanBySlug(slug Slug) (Plan, bool) {
	for _, p := range c.plans {
		if p.Slug == slug {
			return p, true
		}
	}
	return Plan{}, false
}

// HasTiers reports whether a plan has nested tiers
func (c *Catalog) HasTiers(planID string) bool {
	for _, t := range c.tiers {
		if t.PlanID == planID {
			return true
		}
	}
	return false
}

// TierForAllowance returns the tier granting exactly the given allowance
func (c *Catalog) TierForAllowance(allowance int) (Tier, bool) {
	i := sort.Search(len(c.tiers), func(i int) bool {
		return c.tiers[i].Allowance >= allowance
	})
	if i < len(c.tiers) && c.tiers[i].Allowance == allowance {
		return c.tiers[i], true
	}
	return Tier{}, false
}

// SmallestTierCovering returns the cheapest tier whose allowance is at least n
func (c *Catalog) SmallestTierCovering(n int) (Tier, bool) {
	i := sort.Search(len(c.tiers), func(i int) bool {
		return c.tiers[i].Allowance >= n
	})
	if i < len(c.tiers) {
		return c.tiers[i], true
	}
	return Tier{}, false
}

// MaxTierAllowance returns the largest tier allowance
func (c *Catalog) MaxTierAllowance() (int, error) {
	if len(c.tiers) == 0 {
		return 0, configErrorf("no tiers configured")
	}
	return c.tiers[len(c.tiers)-1].Allowance, nil
}

// MinCustomQuantity returns the smallest quantity priced as a custom allowance
func (c *Catalog) MinCustomQuantity() (int, error) {
	maxAllowance, err := c.MaxTierAllowance()
	if err != nil {
		return 0, fmt.Errorf("custom quantities unavailable: %w", err)
	}
	return maxAllowance + 1, nil
}

package plans

import (
	"sort"

	"github.com/shopspring/decimal"
)

// UpgradeOption is a candidate allowance offered to a customer
type UpgradeOption struct {
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TierID      string          `json:"tier_id,omitempty"`
	Custom      bool            `json:"custom"`
	Recommended bool            `json:"recommended"`
}

// UpgradeOptions lists tiers above the current allowance merged with the given
// custom candidates. The result is sorted by quantity and de-duplicated, a
// real tier winning over a custom candidate of the same quantity. The first
// option covering required is marked recommended.
func (c *Catalog) UpgradeOptions(currentAllowance, required int, custom []UpgradeOption) []UpgradeOption {
	byQuantity := make(map[int]UpgradeOption)

	for _, t := range c.tiers {
		if t.Allowance <= currentAllowance {
			continue
		}
		byQuantity[t.Allowance] = UpgradeOption{
			Quantity: t.Allowance,
			Price:    t.EffectivePrice(),
			TierID:   t.ID,
		}
	}

	for _, o := range custom {
		if o.Quantity <= currentAllowance {
			continue
		}
		if _, taken := byQuantity[o.Quantity]; taken {
			continue
		}
		o.Custom = true
		o.TierID = ""
		o.Recommended = false
		byQuantity[o.Quantity] = o
	}

	options := make([]UpgradeOption, 0, len(byQuantity))
	for _, o := range byQuantity {
		options = append(options, o)
	}
	sort.Slice(options, func(i, j int) bool {
		return options[i].Quantity < options[j].Quantity
	})

	for i := range options {
		if options[i].Quantity >= required {
			options[i].Recommended = true
			break
		}
	}

	return options
}

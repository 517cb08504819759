package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SelectionKind tells what a Selection targets
type SelectionKind string

const (
	SelectionPlan   SelectionKind = "plan"
	SelectionTier   SelectionKind = "tier"
	SelectionCustom SelectionKind = "custom"
)

// Selection is the requested target of a plan change. It is immutable; build
// one with SelectPlan, SelectTier or SelectCustom.
type Selection struct {
	kind     SelectionKind
	planID   string
	tierID   string
	quantity int
	quote    decimal.Decimal
}

// SelectPlan targets a flat plan
func SelectPlan(planID string) Selection {
	return Selection{kind: SelectionPlan, planID: planID}
}

// SelectTier targets a predefined tier
func SelectTier(tierID string) Selection {
	return Selection{kind: SelectionTier, tierID: tierID}
}

// SelectCustom targets a custom quantity at its previewed monthly price
func SelectCustom(quantity int, quote decimal.Decimal) Selection {
	return Selection{kind: SelectionCustom, quantity: quantity, quote: quote}
}

func (s Selection) Kind() SelectionKind    { return s.kind }
func (s Selection) PlanID() string         { return s.planID }
func (s Selection) TierID() string         { return s.tierID }
func (s Selection) Quantity() int          { return s.quantity }
func (s Selection) Quote() decimal.Decimal { return s.quote }

// IsZero reports whether nothing was selected
func (s Selection) IsZero() bool {
	return s.kind == ""
}

func (s Selection) String() string {
	switch s.kind {
	case SelectionPlan:
		return "plan:" + s.planID
	case SelectionTier:
		return "tier:" + s.tierID
	case SelectionCustom:
		return fmt.Sprintf("custom:%d", s.quantity)
	default:
		return "none"
	}
}

// Matches reports whether the entitlement already grants the selection
func (s Selection) Matches(e Entitlement) bool {
	switch s.kind {
	case SelectionPlan:
		return e.Kind == EntitlementPlan && e.PlanID == s.planID
	case SelectionTier:
		return e.Kind == EntitlementTier && e.TierID == s.tierID
	case SelectionCustom:
		return e.Kind == EntitlementCustom && e.Quantity == s.quantity
	default:
		return false
	}
}

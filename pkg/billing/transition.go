package billing

import (
	"fmt"

	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/shopspring/decimal"
)

// ChangeKind classifies a requested plan change
type ChangeKind string

const (
	ChangeUpgrade   ChangeKind = "upgrade"
	ChangeDowngrade ChangeKind = "downgrade"
	ChangeNoop      ChangeKind = "noop"
)

// DowngradeKind distinguishes the three ways an allowance can shrink
type DowngradeKind string

const (
	DowngradeTier   DowngradeKind = "tier"
	DowngradeCustom DowngradeKind = "custom"
	DowngradePlan   DowngradeKind = "plan"
)

// AlreadyOnPlanMessage is reported for a change to the active entitlement
const AlreadyOnPlanMessage = "already on this plan"

// Decision is the outcome of classifying a Selection against a Subscription
type Decision struct {
	Kind          ChangeKind    `json:"kind"`
	DowngradeKind DowngradeKind `json:"downgrade_kind,omitempty"`
	// Target is the entitlement the subscription would hold after the change.
	Target           Entitlement     `json:"target"`
	CurrentRank      plans.Rank      `json:"current_rank"`
	TargetRank       plans.Rank      `json:"target_rank"`
	CurrentAllowance int             `json:"current_allowance"`
	TargetAllowance  int             `json:"target_allowance"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	TargetPrice      decimal.Decimal `json:"target_price"`
	// Prompt is the confirmation text for downgrades, or the no-op message.
	Prompt string `json:"prompt,omitempty"`
}

// RequiresConfirmation reports whether the caller must confirm before committing
func (d Decision) RequiresConfirmation() bool {
	return d.Kind == ChangeDowngrade
}

type resolved struct {
	entitlement Entitlement
	rank        plans.Rank
	allowance   int
	price       decimal.Decimal
}

// Classify decides whether moving sub to sel is an upgrade, a downgrade or a
// no-op. A nil sub is treated as a customer with nothing contracted. It has no
// side effects.
func Classify(cat *plans.Catalog, sub *Subscription, sel Selection) (Decision, error) {
	if sel.IsZero() {
		return Decision{}, NewValidationError("selection", "choose a plan, a tier or a quantity")
	}

	cur := resolved{rank: plans.RankUnknown, price: decimal.Zero}
	if sub != nil {
		if sel.Matches(sub.Entitlement) {
			return Decision{
				Kind:             ChangeNoop,
				Target:           sub.Entitlement,
				CurrentAllowance: sub.ContractedAllowance,
				TargetAllowance:  sub.ContractedAllowance,
				CurrentPrice:     sub.AppliedPrice,
				TargetPrice:      sub.AppliedPrice,
				Prompt:           AlreadyOnPlanMessage,
			}, nil
		}
		var err error
		cur, err = resolveCurrent(cat, sub)
		if err != nil {
			return Decision{}, err
		}
	}

	target, err := resolveTarget(cat, sel)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Target:           target.entitlement,
		CurrentRank:      cur.rank,
		TargetRank:       target.rank,
		CurrentAllowance: cur.allowance,
		TargetAllowance:  target.allowance,
		CurrentPrice:     cur.price,
		TargetPrice:      target.price,
	}

	switch {
	case target.rank > cur.rank:
		d.Kind = ChangeUpgrade
	case target.rank < cur.rank:
		d.Kind = ChangeDowngrade
		d.DowngradeKind = DowngradePlan
	default:
		d.Kind, d.DowngradeKind = classifySameRank(sub, sel, target)
	}

	if d.Kind == ChangeDowngrade {
		d.Prompt = DowngradePrompt(d.CurrentAllowance, d.TargetAllowance)
	}
	return d, nil
}

func classifySameRank(sub *Subscription, sel Selection, target resolved) (ChangeKind, DowngradeKind) {
	if sub == nil {
		return ChangeUpgrade, ""
	}
	cheaper := target.price.LessThan(sub.AppliedPrice)
	smaller := target.allowance < sub.ContractedAllowance

	switch sel.Kind() {
	case SelectionTier:
		if cheaper || smaller || sub.Entitlement.IsCustom() {
			return ChangeDowngrade, DowngradeTier
		}
	case SelectionCustom:
		if cheaper || smaller {
			return ChangeDowngrade, DowngradeCustom
		}
	default:
		if cheaper || smaller {
			return ChangeDowngrade, DowngradePlan
		}
	}
	return ChangeUpgrade, ""
}

// DowngradePrompt renders the confirmation shown before a downgrade
func DowngradePrompt(currentAllowance, targetAllowance int) string {
	return fmt.Sprintf(
		"Your automated billing allowance will go from %d to %d passengers. "+
			"The lower price applies from the next cycle. Do you want to continue?",
		currentAllowance, targetAllowance)
}

func resolveCurrent(cat *plans.Catalog, sub *Subscription) (resolved, error) {
	e := sub.Entitlement
	r := resolved{entitlement: e, allowance: sub.ContractedAllowance, price: sub.AppliedPrice}

	switch e.Kind {
	case EntitlementTier:
		tier, ok := cat.Tier(e.TierID)
		if !ok {
			return r, &plans.ConfigError{Reason: fmt.Sprintf("subscription %s references unknown tier %s", sub.ID, e.TierID)}
		}
		parent, ok := cat.Plan(tier.PlanID)
		if !ok {
			return r, &plans.ConfigError{Reason: fmt.Sprintf("tier %s has no parent plan", tier.ID)}
		}
		r.rank = parent.Rank()
	case EntitlementPlan, EntitlementCustom:
		plan, ok := cat.Plan(e.PlanID)
		if !ok {
			return r, &plans.ConfigError{Reason: fmt.Sprintf("subscription %s references unknown plan %s", sub.ID, e.PlanID)}
		}
		r.rank = plan.Rank()
	default:
		return r, &plans.ConfigError{Reason: fmt.Sprintf("subscription %s has no entitlement", sub.ID)}
	}
	return r, nil
}

func resolveTarget(cat *plans.Catalog, sel Selection) (resolved, error) {
	switch sel.Kind() {
	case SelectionPlan:
		plan, ok := cat.Plan(sel.PlanID())
		if !ok {
			return resolved{}, NewValidationError("plan_id", "unknown plan %s", sel.PlanID())
		}
		if cat.HasTiers(plan.ID) {
			return resolved{}, NewValidationError("plan_id", "choose a tier or a custom quantity for %s", plan.Name)
		}
		return resolved{
			entitlement: PlanEntitlement(plan.ID),
			rank:        plan.Rank(),
			allowance:   plan.Allowance,
			price:       plan.EffectivePrice(),
		}, nil

	case SelectionTier:
		tier, ok := cat.Tier(sel.TierID())
		if !ok {
			return resolved{}, NewValidationError("tier_id", "unknown tier %s", sel.TierID())
		}
		parent, ok := cat.Plan(tier.PlanID)
		if !ok {
			return resolved{}, &plans.ConfigError{Reason: fmt.Sprintf("tier %s has no parent plan", tier.ID)}
		}
		return resolved{
			entitlement: TierEntitlement(parent.ID, tier.ID),
			rank:        parent.Rank(),
			allowance:   tier.Allowance,
			price:       tier.EffectivePrice(),
		}, nil

	case SelectionCustom:
		if err := CheckCustomQuantity(cat, sel.Quantity()); err != nil {
			return resolved{}, err
		}
		if !sel.Quote().IsPositive() {
			return resolved{}, NewValidationError("quantity", "price preview for %d passengers is not available yet", sel.Quantity())
		}
		parent, ok := cat.PlanBySlug(plans.SlugComplete)
		if !ok {
			return resolved{}, &plans.ConfigError{Reason: "no complete plan configured for custom quantities"}
		}
		return resolved{
			entitlement: CustomEntitlement(parent.ID, sel.Quantity()),
			rank:        parent.Rank(),
			allowance:   sel.Quantity(),
			price:       sel.Quote(),
		}, nil
	}
	return resolved{}, NewValidationError("selection", "unsupported selection %s", sel)
}

// CheckCustomQuantity rejects quantities that a predefined tier already
// covers. An empty tier list is a configuration error.
func CheckCustomQuantity(cat *plans.Catalog, quantity int) error {
	minQty, err := cat.MinCustomQuantity()
	if err != nil {
		return err
	}
	if quantity >= minQty {
		return nil
	}
	if tier, ok := cat.SmallestTierCovering(quantity); ok && quantity > 0 {
		return NewValidationError("quantity",
			"custom quantities start at %d; choose the %d passenger tier instead", minQty, tier.Allowance)
	}
	return NewValidationError("quantity", "custom quantities start at %d", minQty)
}

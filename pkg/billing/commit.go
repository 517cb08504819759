package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// CommitKind is the shape of a mutation result
type CommitKind string

const (
	// CommitApplied means the subscription was changed immediately
	CommitApplied CommitKind = "applied"
	// CommitSelectionRequired means passengers must be picked before the change applies
	CommitSelectionRequired CommitKind = "selection_required"
	// CommitChargeRequired means the change applies once Charge is paid
	CommitChargeRequired CommitKind = "charge_required"
)

// CommitResult is returned by every mutation call
type CommitResult struct {
	Kind          CommitKind     `json:"kind"`
	Subscription  *Subscription  `json:"subscription,omitempty"`
	Allowance     int            `json:"allowance,omitempty"`
	DowngradeKind DowngradeKind  `json:"downgrade_kind,omitempty"`
	Charge        *PendingCharge `json:"charge,omitempty"`
}

// ChangeContext carries a pending change into ConfirmSelection so the remote
// side can commit the same mutation after passengers are reconciled. A nil
// context confirms a selection with no change attached.
type ChangeContext struct {
	Target    Entitlement     `json:"target"`
	AmountDue decimal.Decimal `json:"amount_due"`
}

// MutationAPI is the remote subscription mutation collaborator
type MutationAPI interface {
	Upgrade(ctx context.Context, customerID, planID string) (CommitResult, error)
	Downgrade(ctx context.Context, customerID, planID string) (CommitResult, error)
	ChangeTier(ctx context.Context, customerID, tierID string) (CommitResult, error)
	SetCustomAllowance(ctx context.Context, customerID string, quantity int) (CommitResult, error)
	ConfirmSelection(ctx context.Context, customerID string, change *ChangeContext, passengerIDs []string, allowance int, kind DowngradeKind) (CommitResult, error)
}

// Reflects reports whether sub already holds the target entitlement
func Reflects(sub *Subscription, target Entitlement) bool {
	if sub == nil || !sub.Active {
		return false
	}
	e := sub.Entitlement
	if e.Kind != target.Kind {
		return false
	}
	switch e.Kind {
	case EntitlementTier:
		return e.TierID == target.TierID
	case EntitlementCustom:
		return e.Quantity == target.Quantity
	default:
		return e.PlanID == target.PlanID
	}
}

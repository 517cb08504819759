package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the lifecycle status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// EntitlementKind tells which variant an Entitlement holds
type EntitlementKind string

const (
	EntitlementPlan   EntitlementKind = "plan"
	EntitlementTier   EntitlementKind = "tier"
	EntitlementCustom EntitlementKind = "custom"
)

// Entitlement is what a subscription grants: a plan, a tier of a plan, or a
// custom quantity under a plan. Only the fields of its Kind are set.
type Entitlement struct {
	Kind     EntitlementKind `json:"kind"`
	PlanID   string          `json:"plan_id"`
	TierID   string          `json:"tier_id,omitempty"`
	Quantity int             `json:"quantity,omitempty"`
}

// PlanEntitlement entitles a flat plan
func PlanEntitlement(planID string) Entitlement {
	return Entitlement{Kind: EntitlementPlan, PlanID: planID}
}

// TierEntitlement entitles a predefined tier
func TierEntitlement(planID, tierID string) Entitlement {
	return Entitlement{Kind: EntitlementTier, PlanID: planID, TierID: tierID}
}

// CustomEntitlement entitles a custom allowance quantity
func CustomEntitlement(planID string, quantity int) Entitlement {
	return Entitlement{Kind: EntitlementCustom, PlanID: planID, Quantity: quantity}
}

// IsCustom reports whether the entitlement is a custom quantity
func (e Entitlement) IsCustom() bool {
	return e.Kind == EntitlementCustom
}

// Subscription is a customer's commercial state
type Subscription struct {
	ID                  string             `json:"id"`
	CustomerID          string             `json:"customer_id"`
	Active              bool               `json:"active"`
	Entitlement         Entitlement        `json:"entitlement"`
	ContractedAllowance int                `json:"contracted_allowance"`
	AppliedPrice        decimal.Decimal    `json:"applied_price"`
	DueDate             *time.Time         `json:"due_date,omitempty"`
	Status              SubscriptionStatus `json:"status"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// IsPaid reports whether the customer currently pays for the subscription
func (s *Subscription) IsPaid() bool {
	return s != nil && s.Status != SubscriptionStatusTrial && s.AppliedPrice.IsPositive()
}

// ChargeStatus represents the lifecycle of a pending charge
type ChargeStatus string

const (
	ChargeStatusPendingPayment ChargeStatus = "pending_payment"
	ChargeStatusPaid           ChargeStatus = "paid"
	ChargeStatusCancelled      ChargeStatus = "cancelled"
)

// PendingCharge is a single instant-payment request tied to a commit attempt
type PendingCharge struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	// Payload is the copy-and-paste payment code.
	Payload string `json:"payload"`
	// QRCode is the payload rendered as an image, base64 encoded.
	QRCode    string       `json:"qr_code,omitempty"`
	Status    ChargeStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	PaidAt    *time.Time   `json:"paid_at,omitempty"`
}

// ChargeEvent is a status change notification for a charge
type ChargeEvent struct {
	ChargeID string       `json:"charge_id"`
	Status   ChargeStatus `json:"status"`
	At       time.Time    `json:"at"`
}

// SubscriptionReader reads the authoritative subscription state. Every call
// is a fresh read.
type SubscriptionReader interface {
	ActiveSubscription(ctx context.Context, customerID string) (*Subscription, error)
	CountAutomated(ctx context.Context, customerID string) (int, error)
}

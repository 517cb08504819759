package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements SubscriptionReader and charge persistence using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ActiveSubscription returns the customer's active subscription
func (s *PostgresStore) ActiveSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	query := `
		SELECT id, customer_id, active, entitlement_kind, plan_id, tier_id, custom_quantity,
		       contracted_allowance, applied_price, due_date, status, created_at, updated_at
		FROM subscriptions
		WHERE customer_id = $1 AND active = true
		ORDER BY created_at DESC
		LIMIT 1
	`
	sub := &Subscription{}
	var (
		tierID   sql.NullString
		quantity sql.NullInt64
		dueDate  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, customerID).Scan(
		&sub.ID, &sub.CustomerID, &sub.Active, &sub.Entitlement.Kind, &sub.Entitlement.PlanID,
		&tierID, &quantity, &sub.ContractedAllowance, &sub.AppliedPrice, &dueDate,
		&sub.Status, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if tierID.Valid {
		sub.Entitlement.TierID = tierID.String
	}
	if quantity.Valid {
		sub.Entitlement.Quantity = int(quantity.Int64)
	}
	if dueDate.Valid {
		d := dueDate.Time
		sub.DueDate = &d
	}
	return sub, nil
}

// CountAutomated counts active passengers with automated billing
func (s *PostgresStore) CountAutomated(ctx context.Context, customerID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM passengers
		WHERE customer_id = $1 AND active = true AND automated_billing = true
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, customerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count automated passengers: %w", err)
	}
	return count, nil
}

// CreateCharge stores a new pending charge. Storing a charge id that already
// exists leaves the stored row untouched and is not an error.
func (s *PostgresStore) CreateCharge(ctx context.Context, charge *PendingCharge) error {
	query := `
		INSERT INTO charges (id, customer_id, amount, payload, qr_code, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`
	if charge.Status == "" {
		charge.Status = ChargeStatusPendingPayment
	}
	err := s.db.QueryRowContext(ctx, query, charge.ID, charge.CustomerID, charge.Amount,
		charge.Payload, charge.QRCode, charge.Status).Scan(&charge.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create charge: %w", err)
	}
	return nil
}

// MarkChargePaid moves a pending charge to paid. A charge leaves
// pending_payment at most once; the returned status is the charge's status
// after the call, so a repeated call reports paid without changing anything.
func (s *PostgresStore) MarkChargePaid(ctx context.Context, id string, paidAt time.Time) (ChargeStatus, error) {
	query := `
		UPDATE charges SET status = $2, paid_at = $3
		WHERE id = $1 AND status = $4
		RETURNING status
	`
	return s.settle(ctx, query, id, ChargeStatusPaid, paidAt, ChargeStatusPendingPayment)
}

// CancelCharge moves a pending charge to cancelled
func (s *PostgresStore) CancelCharge(ctx context.Context, id string) (ChargeStatus, error) {
	query := `
		UPDATE charges SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING status
	`
	return s.settle(ctx, query, id, ChargeStatusCancelled, ChargeStatusPendingPayment)
}

func (s *PostgresStore) settle(ctx context.Context, query, id string, args ...any) (ChargeStatus, error) {
	var status ChargeStatus
	err := s.db.QueryRowContext(ctx, query, append([]any{id}, args...)...).Scan(&status)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to update charge: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT status FROM charges WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrChargeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get charge status: %w", err)
	}
	return status, nil
}

// ExpireStaleCharges cancels charges still pending that were created before
// the cutoff and returns their ids
func (s *PostgresStore) ExpireStaleCharges(ctx context.Context, before time.Time) ([]string, error) {
	query := `
		UPDATE charges SET status = $1
		WHERE status = $2 AND created_at < $3
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, ChargeStatusCancelled, ChargeStatusPendingPayment, before)
	if err != nil {
		return nil, fmt.Errorf("failed to expire charges: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan charge id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired charges: %w", err)
	}
	return ids, nil
}

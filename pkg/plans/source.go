package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Source loads catalog snapshots
type Source interface {
	LoadCatalog(ctx context.Context, activeOnly bool) (*Catalog, error)
}

// PostgresSource reads plans and tiers from PostgreSQL
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a new PostgresSource
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// LoadCatalog reads plans and tiers and validates them into a Catalog
func (s *PostgresSource) LoadCatalog(ctx context.Context, activeOnly bool) (*Catalog, error) {
	plans, err := s.loadPlans(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	tiers, err := s.loadTiers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	return NewCatalog(plans, tiers)
}

func (s *PostgresSource) loadPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	query := `
		SELECT id, slug, name, price, promo_price, benefits, allowance, passenger_limit, active
		FROM plans
		WHERE ($1 = false OR active = true)
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var (
			p        Plan
			promo    decimal.NullDecimal
			benefits []byte
			limit    sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Price, &promo, &benefits,
			&p.Allowance, &limit, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if promo.Valid {
			v := promo.Decimal
			p.PromoPrice = &v
		}
		if limit.Valid {
			v := int(limit.Int64)
			p.PassengerLimit = &v
		}
		if len(benefits) > 0 {
			if err := json.Unmarshal(benefits, &p.Benefits); err != nil {
				return nil, fmt.Errorf("failed to unmarshal benefits for plan %s: %w", p.ID, err)
			}
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

func (s *PostgresSource) loadTiers(ctx context.Context, activeOnly bool) ([]Tier, error) {
	query := `
		SELECT id, plan_id, allowance, price, promo_price, active
		FROM plan_tiers
		WHERE ($1 = false OR active = true)
		ORDER BY allowance
	`
	rows, err := s.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []Tier
	for rows.Next() {
		var (
			t     Tier
			promo decimal.NullDecimal
		)
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Allowance, &t.Price, &promo, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		if promo.Valid {
			v := promo.Decimal
			t.PromoPrice = &v
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tiers: %w", err)
	}
	return tiers, nil
}

package allowance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresPassengers implements Passengers using PostgreSQL
type PostgresPassengers struct {
	db *sql.DB
}

// NewPostgresPassengers creates a new PostgresPassengers
func NewPostgresPassengers(db *sql.DB) *PostgresPassengers {
	return &PostgresPassengers{db: db}
}

// Passenger gets a passenger by id
func (s *PostgresPassengers) Passenger(ctx context.Context, id string) (Passenger, error) {
	query := `
		SELECT id, customer_id, name, active, automated_billing
		FROM passengers
		WHERE id = $1
	`
	var p Passenger
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.CustomerID, &p.Name, &p.Active, &p.AutomatedBilling)
	if errors.Is(err, sql.ErrNoRows) {
		return Passenger{}, ErrPassengerNotFound
	}
	if err != nil {
		return Passenger{}, fmt.Errorf("failed to get passenger: %w", err)
	}
	return p, nil
}

// ListAutomated lists the customer's active passengers with automated billing
func (s *PostgresPassengers) ListAutomated(ctx context.Context, customerID string) ([]Passenger, error) {
	query := `
		SELECT id, customer_id, name, active, automated_billing
		FROM passengers
		WHERE customer_id = $1 AND active = true AND automated_billing = true
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passengers: %w", err)
	}
	defer rows.Close()

	var passengers []Passenger
	for rows.Next() {
		var p Passenger
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.Name, &p.Active, &p.AutomatedBilling); err != nil {
			return nil, fmt.Errorf("failed to scan passenger: %w", err)
		}
		passengers = append(passengers, p)
	}
	return passengers, rows.Err()
}

// SetAutomation turns automated billing on or off for a passenger
func (s *PostgresPassengers) SetAutomation(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE passengers SET automated_billing = $2, updated_at = NOW() WHERE id = $1`
	return s.exec(ctx, query, id, enabled)
}

// Reactivate marks a passenger active. The automation flag is kept only when
// keepAutomation is set.
func (s *PostgresPassengers) Reactivate(ctx context.Context, id string, keepAutomation bool) error {
	query := `
		UPDATE passengers
		SET active = true, automated_billing = (automated_billing AND $2), updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, query, id, keepAutomation)
}

func (s *PostgresPassengers) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update passenger: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrPassengerNotFound
	}
	return nil
}

package allowance

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/tierflow/pkg/plans"
)

// ErrPassengerNotFound is returned when a passenger id is unknown to the customer
var ErrPassengerNotFound = errors.New("passenger not found")

// Passenger is the slice of a passenger record the allowance cares about
type Passenger struct {
	ID               string `json:"id"`
	CustomerID       string `json:"customer_id"`
	Name             string `json:"name"`
	Active           bool   `json:"active"`
	AutomatedBilling bool   `json:"automated_billing"`
}

// Passengers reads and toggles passenger automation
type Passengers interface {
	Passenger(ctx context.Context, id string) (Passenger, error)
	ListAutomated(ctx context.Context, customerID string) ([]Passenger, error)
	SetAutomation(ctx context.Context, id string, enabled bool) error
	Reactivate(ctx context.Context, id string, keepAutomation bool) error
}

// Deficit compares automated usage with an allowance
type Deficit struct {
	Automated int `json:"automated"`
	Allowance int `json:"allowance"`
}

// Excess is the number of passengers that must lose automation
func (d Deficit) Excess() int {
	if d.Automated <= d.Allowance {
		return 0
	}
	return d.Automated - d.Allowance
}

// NeedsSelection reports whether the caller must choose which passengers keep automation
func (d Deficit) NeedsSelection() bool {
	return d.Excess() > 0
}

// Remedy is a way out of an exhausted allowance
type Remedy string

const (
	RemedyUpgrade                     Remedy = "upgrade"
	RemedyReactivateWithoutAutomation Remedy = "reactivate_without_automation"
)

// AllowanceExhaustedError blocks a reactivation that would exceed the allowance
type AllowanceExhaustedError struct {
	PassengerID string
	Used        int
	Allowance   int
	Remedies    []Remedy
	Options     []plans.UpgradeOption
}

func (e *AllowanceExhaustedError) Error() string {
	return fmt.Sprintf("automated billing allowance exhausted: %d of %d in use", e.Used, e.Allowance)
}

// IsAllowanceExhausted checks if an error is an allowance exhausted error
func IsAllowanceExhausted(err error) bool {
	var ae *AllowanceExhaustedError
	return errors.As(err, &ae)
}

// InvariantViolationError reports more automated passengers than the
// contracted allowance after a mutation
type InvariantViolationError struct {
	Point     string
	Automated int
	Allowance int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("allowance invariant violated after %s: %d automated, %d allowed",
		e.Point, e.Automated, e.Allowance)
}

// IsInvariantViolation checks if an error is an invariant violation
func IsInvariantViolation(err error) bool {
	var ie *InvariantViolationError
	return errors.As(err, &ie)
}

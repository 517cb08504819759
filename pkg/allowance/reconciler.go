package allowance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/tierflow/pkg/async"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/plans"
)

// OptionsFunc computes upgrade options for a customer who needs at least
// required automated slots
type OptionsFunc func(ctx context.Context, currentAllowance, required int) ([]plans.UpgradeOption, error)

// ReactivateMode picks how a passenger is reactivated
type ReactivateMode string

const (
	// ReactivateKeepAutomation keeps the automation flag and is subject to the allowance
	ReactivateKeepAutomation ReactivateMode = "keep_automation"
	// ReactivateWithoutAutomation clears the automation flag in the same call
	ReactivateWithoutAutomation ReactivateMode = "without_automation"
)

// ReactivateResult describes a completed reactivation
type ReactivateResult struct {
	PassengerID      string `json:"passenger_id"`
	AutomatedBilling bool   `json:"automated_billing"`
}

const defaultToggleConcurrency = 8

// Reconciler enforces the automated billing allowance
type Reconciler struct {
	subs        billing.SubscriptionReader
	passengers  Passengers
	options     OptionsFunc
	logger      *observability.Logger
	metrics     *observability.Metrics
	concurrency int
	locks       *customerLocks
}

// NewReconciler creates a new Reconciler. options may be nil, in which case
// exhausted allowance errors carry no upgrade options.
func NewReconciler(subs billing.SubscriptionReader, passengers Passengers, options OptionsFunc,
	logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Reconciler{
		subs:        subs,
		passengers:  passengers,
		options:     options,
		logger:      logger,
		metrics:     metrics,
		concurrency: defaultToggleConcurrency,
		locks:       newCustomerLocks(),
	}
}

// Evaluate compares the fresh automated count with newAllowance
func (r *Reconciler) Evaluate(ctx context.Context, customerID string, newAllowance int) (Deficit, error) {
	count, err := r.subs.CountAutomated(ctx, customerID)
	if err != nil {
		return Deficit{}, fmt.Errorf("failed to count automated passengers: %w", err)
	}
	return Deficit{Automated: count, Allowance: newAllowance}, nil
}

// ValidateSelection checks that keep names exactly allowance distinct
// passengers, all currently automated, and returns the passengers that would
// lose automation. Nothing is toggled.
func (r *Reconciler) ValidateSelection(ctx context.Context, customerID string, keep []string, allowance int) ([]Passenger, error) {
	if allowance < 0 {
		return nil, billing.NewValidationError("allowance", "must not be negative")
	}
	if len(keep) != allowance {
		r.metrics.RecordAllowanceRejection("selection_size")
		return nil, billing.NewValidationError("passenger_ids",
			"select exactly %d passengers, got %d", allowance, len(keep))
	}

	automated, err := r.passengers.ListAutomated(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list automated passengers: %w", err)
	}
	byID := make(map[string]bool, len(automated))
	for _, p := range automated {
		byID[p.ID] = true
	}

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		if kept[id] {
			r.metrics.RecordAllowanceRejection("selection_duplicate")
			return nil, billing.NewValidationError("passenger_ids", "passenger %s selected twice", id)
		}
		if !byID[id] {
			r.metrics.RecordAllowanceRejection("selection_foreign")
			return nil, billing.NewValidationError("passenger_ids",
				"passenger %s does not have automated billing", id)
		}
		kept[id] = true
	}

	var drop []Passenger
	for _, p := range automated {
		if !kept[p.ID] {
			drop = append(drop, p)
		}
	}
	return drop, nil
}

// ApplySelection validates keep and disables automation for every other
// automated passenger. It returns the ids that lost automation, also when it
// fails part way, so the caller can restore them with RestoreAutomation.
func (r *Reconciler) ApplySelection(ctx context.Context, customerID string, keep []string, allowance int) ([]string, error) {
	drop, err := r.ValidateSelection(ctx, customerID, keep, allowance)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(drop))
	for i, p := range drop {
		ids[i] = p.ID
	}
	if done, err := r.disableAutomation(ctx, ids); err != nil {
		return done, err
	}
	r.logger.WithField("customer_id", customerID).
		WithField("kept", len(keep)).
		WithField("disabled", len(ids)).
		Info("automation disabled for passengers outside the selection")

	count, err := r.subs.CountAutomated(ctx, customerID)
	if err != nil {
		return ids, fmt.Errorf("failed to count automated passengers: %w", err)
	}
	if count > allowance {
		r.metrics.RecordInvariantViolation("selection")
		return ids, &InvariantViolationError{Point: "selection", Automated: count, Allowance: allowance}
	}
	return ids, nil
}

// RestoreAutomation turns automation back on for ids after a selection could
// not be committed. The allowance that held before the selection is still in
// force, so this cannot exceed it. Every id is attempted; the ones left
// without automation are returned with the first failure.
func (r *Reconciler) RestoreAutomation(ctx context.Context, customerID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx = context.WithoutCancel(ctx)

	var (
		mu       sync.Mutex
		stuck    []string
		firstErr error
	)
	_ = async.Batch(ctx, ids, r.concurrency, "restore automation", func(ctx context.Context, id string) error {
		if err := r.passengers.SetAutomation(ctx, id, true); err != nil {
			mu.Lock()
			stuck = append(stuck, id)
			if firstErr == nil {
				firstErr = fmt.Errorf("passenger %s: %w", id, err)
			}
			mu.Unlock()
		}
		return nil
	})

	logger := r.logger.WithField("customer_id", customerID)
	if firstErr != nil {
		logger.WithError(firstErr).WithField("passenger_ids", stuck).Error("failed to restore automation")
		return stuck, fmt.Errorf("failed to restore automation: %w", firstErr)
	}
	logger.WithField("restored", len(ids)).Info("automation restored after failed selection")
	return nil, nil
}

// disableAutomation toggles ids off in parallel and returns the ids that changed
func (r *Reconciler) disableAutomation(ctx context.Context, ids []string) ([]string, error) {
	var (
		mu   sync.Mutex
		done []string
	)
	err := async.Batch(ctx, ids, r.concurrency, "disable automation", func(ctx context.Context, id string) error {
		if err := r.passengers.SetAutomation(ctx, id, false); err != nil {
			return fmt.Errorf("passenger %s: %w", id, err)
		}
		mu.Lock()
		done = append(done, id)
		mu.Unlock()
		return nil
	})
	return done, err
}

// CheckInvariant verifies that the automated count does not exceed the active
// subscription's contracted allowance
func (r *Reconciler) CheckInvariant(ctx context.Context, customerID, point string) error {
	sub, err := r.subs.ActiveSubscription(ctx, customerID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}
	count, err := r.subs.CountAutomated(ctx, customerID)
	if err != nil {
		return fmt.Errorf("failed to count automated passengers: %w", err)
	}
	if count > sub.ContractedAllowance {
		r.metrics.RecordInvariantViolation(point)
		r.logger.WithField("customer_id", customerID).
			WithField("automated", count).
			WithField("allowance", sub.ContractedAllowance).
			Error("automated passengers exceed contracted allowance")
		return &InvariantViolationError{Point: point, Automated: count, Allowance: sub.ContractedAllowance}
	}
	return nil
}

// Reactivate reactivates an inactive passenger. A passenger flagged for
// automation keeps it only while the allowance has room; otherwise an
// AllowanceExhaustedError is returned. Decisions for one customer are
// serialized, and when another writer still pushes the count past the
// allowance the passenger stays active with automation cleared.
func (r *Reconciler) Reactivate(ctx context.Context, customerID, passengerID string, mode ReactivateMode) (ReactivateResult, error) {
	unlock := r.locks.lock(customerID)
	defer unlock()

	p, err := r.passengers.Passenger(ctx, passengerID)
	if err != nil {
		return ReactivateResult{}, fmt.Errorf("failed to get passenger: %w", err)
	}
	if p.CustomerID != customerID {
		return ReactivateResult{}, ErrPassengerNotFound
	}
	if p.Active {
		return ReactivateResult{}, billing.NewValidationError("passenger_id", "passenger is already active")
	}

	if !p.AutomatedBilling || mode == ReactivateWithoutAutomation {
		if err := r.passengers.Reactivate(ctx, passengerID, false); err != nil {
			return ReactivateResult{}, fmt.Errorf("failed to reactivate passenger: %w", err)
		}
		return ReactivateResult{PassengerID: passengerID}, nil
	}

	sub, err := r.subs.ActiveSubscription(ctx, customerID)
	if err != nil {
		return ReactivateResult{}, fmt.Errorf("failed to get subscription: %w", err)
	}
	count, err := r.subs.CountAutomated(ctx, customerID)
	if err != nil {
		return ReactivateResult{}, fmt.Errorf("failed to count automated passengers: %w", err)
	}

	if count >= sub.ContractedAllowance {
		r.metrics.RecordAllowanceRejection("exhausted")
		return ReactivateResult{}, r.exhausted(ctx, passengerID, count, sub.ContractedAllowance)
	}

	if err := r.passengers.Reactivate(ctx, passengerID, true); err != nil {
		return ReactivateResult{}, fmt.Errorf("failed to reactivate passenger: %w", err)
	}

	err = r.CheckInvariant(ctx, customerID, "reactivation")
	var violation *InvariantViolationError
	if !errors.As(err, &violation) {
		if err != nil {
			r.logger.WithField("customer_id", customerID).WithError(err).
				Warn("could not verify allowance after reactivation")
		}
		return ReactivateResult{PassengerID: passengerID, AutomatedBilling: true}, nil
	}

	if err := r.passengers.SetAutomation(ctx, passengerID, false); err != nil {
		return ReactivateResult{PassengerID: passengerID, AutomatedBilling: true},
			fmt.Errorf("failed to clear automation after %w: %v", violation, err)
	}
	r.metrics.RecordAllowanceRejection("exhausted")
	r.logger.WithField("customer_id", customerID).WithField("passenger_id", passengerID).
		Warn("allowance filled concurrently, passenger reactivated without automation")
	return ReactivateResult{PassengerID: passengerID},
		r.exhausted(ctx, passengerID, violation.Automated-1, violation.Allowance)
}

func (r *Reconciler) exhausted(ctx context.Context, passengerID string, used, allowance int) *AllowanceExhaustedError {
	exhausted := &AllowanceExhaustedError{
		PassengerID: passengerID,
		Used:        used,
		Allowance:   allowance,
		Remedies:    []Remedy{RemedyUpgrade, RemedyReactivateWithoutAutomation},
	}
	if r.options != nil {
		options, err := r.options(ctx, allowance, used+1)
		if err != nil {
			r.logger.WithError(err).Warn("failed to compute upgrade options")
		}
		exhausted.Options = options
	}
	return exhausted
}

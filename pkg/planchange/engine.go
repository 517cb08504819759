package planchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/platinummonkey/tierflow/pkg/pricing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is what the caller has to do next after a change request
type Outcome string

const (
	OutcomeNoop                 Outcome = "noop"
	OutcomeConfirmationRequired Outcome = "confirmation_required"
	OutcomeSelectionRequired    Outcome = "selection_required"
	OutcomeApplied              Outcome = "applied"
	OutcomePaymentRequired      Outcome = "payment_required"
)

// Request asks for a plan, tier or custom quantity change
type Request struct {
	CustomerID string
	Selection  billing.Selection
	// Confirmed is set once the customer accepted the downgrade prompt.
	Confirmed bool
}

// SelectionRequest completes a downgrade that needs passengers picked
type SelectionRequest struct {
	CustomerID   string
	Selection    billing.Selection
	PassengerIDs []string
}

// Result is the outcome of a change request
type Result struct {
	Outcome       Outcome                `json:"outcome"`
	Decision      billing.Decision       `json:"decision"`
	Message       string                 `json:"message,omitempty"`
	Prorata       *billing.ProrataResult `json:"prorata,omitempty"`
	Allowance     int                    `json:"allowance,omitempty"`
	Excess        int                    `json:"excess,omitempty"`
	DowngradeKind billing.DowngradeKind  `json:"downgrade_kind,omitempty"`
	Subscription  *billing.Subscription  `json:"subscription,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Charge        *billing.PendingCharge `json:"charge,omitempty"`
	Disabled      []string               `json:"disabled_passengers,omitempty"`
	Warning       string                 `json:"warning,omitempty"`
}

// Config tunes the engine
type Config struct {
	MaxCustomQuantity int
}

// Deps are the engine's collaborators
type Deps struct {
	Catalog       plans.Source
	Subscriptions billing.SubscriptionReader
	Mutations     billing.MutationAPI
	Passengers    allowance.Passengers
	Preview       pricing.PreviewService
	Sessions      *payment.Registry
	Clock         clockwork.Clock
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Engine runs plan changes end to end: classify, reconcile the allowance,
// commit, and hand charges to a payment session
type Engine struct {
	deps       Deps
	cfg        Config
	reconciler *allowance.Reconciler
	tracer     trace.Tracer
}

// NewEngine creates a new Engine
func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if cfg.MaxCustomQuantity <= 0 {
		cfg.MaxCustomQuantity = pricing.DefaultConfig().MaxQuantity
	}
	e := &Engine{
		deps:   deps,
		cfg:    cfg,
		tracer: observability.Tracer("tierflow/planchange"),
	}
	e.reconciler = allowance.NewReconciler(deps.Subscriptions, deps.Passengers, e.UpgradeOptions, deps.Logger, deps.Metrics)
	return e
}

// Reconciler returns the allowance reconciler the engine uses
func (e *Engine) Reconciler() *allowance.Reconciler {
	return e.reconciler
}

// Classify loads fresh state and classifies a selection without committing
func (e *Engine) Classify(ctx context.Context, customerID string, sel billing.Selection) (billing.Decision, *billing.Subscription, error) {
	cat, err := e.deps.Catalog.LoadCatalog(ctx, true)
	if err != nil {
		return billing.Decision{}, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	sub, err := e.activeSubscription(ctx, customerID)
	if err != nil {
		return billing.Decision{}, nil, err
	}
	decision, err := billing.Classify(cat, sub, sel)
	if err != nil {
		return billing.Decision{}, nil, err
	}
	return decision, sub, nil
}

// RequestChange classifies and, when allowed, commits a change
func (e *Engine) RequestChange(ctx context.Context, req Request) (result Result, err error) {
	ctx, span := e.tracer.Start(ctx, "planchange.RequestChange", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("selection", req.Selection.String()),
	))
	defer func() { endSpan(span, err) }()
	logger := e.logger(ctx, req.CustomerID)

	decision, sub, err := e.Classify(ctx, req.CustomerID, req.Selection)
	if err != nil {
		e.deps.Metrics.RecordPlanChange("unknown", "rejected")
		return Result{}, err
	}
	span.SetAttributes(attribute.String("change.kind", string(decision.Kind)))

	switch {
	case decision.Kind == billing.ChangeNoop:
		e.deps.Metrics.RecordPlanChange(string(decision.Kind), string(OutcomeNoop))
		return Result{Outcome: OutcomeNoop, Decision: decision, Message: decision.Prompt}, nil
	case decision.RequiresConfirmation() && !req.Confirmed:
		e.deps.Metrics.RecordPlanChange(string(decision.Kind), string(OutcomeConfirmationRequired))
		return Result{Outcome: OutcomeConfirmationRequired, Decision: decision, Message: decision.Prompt}, nil
	}

	if decision.Kind == billing.ChangeDowngrade {
		deficit, err := e.reconciler.Evaluate(ctx, req.CustomerID, decision.TargetAllowance)
		if err != nil {
			return Result{}, err
		}
		if deficit.NeedsSelection() {
			logger.WithField("automated", deficit.Automated).
				WithField("allowance", deficit.Allowance).
				Info("downgrade needs passenger selection")
			e.deps.Metrics.RecordPlanChange(string(decision.Kind), string(OutcomeSelectionRequired))
			return Result{
				Outcome:       OutcomeSelectionRequired,
				Decision:      decision,
				Allowance:     decision.TargetAllowance,
				Excess:        deficit.Excess(),
				DowngradeKind: decision.DowngradeKind,
			}, nil
		}
	}

	prorata := e.prorata(decision, sub)
	commit, err := e.mutate(ctx, req.CustomerID, decision, req.Selection)
	if err != nil {
		e.deps.Metrics.RecordPlanChange(string(decision.Kind), "failed")
		return Result{}, err
	}
	return e.handleCommit(ctx, req.CustomerID, decision, prorata, commit)
}

// SubmitSelection completes a downgrade that returned SelectionRequired.
// The ids must name exactly the new allowance's worth of automated
// passengers; every other automated passenger loses automation before the
// change is committed.
func (e *Engine) SubmitSelection(ctx context.Context, req SelectionRequest) (result Result, err error) {
	ctx, span := e.tracer.Start(ctx, "planchange.SubmitSelection", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.Int("passengers.kept", len(req.PassengerIDs)),
	))
	defer func() { endSpan(span, err) }()

	decision, sub, err := e.Classify(ctx, req.CustomerID, req.Selection)
	if err != nil {
		return Result{}, err
	}
	if decision.Kind != billing.ChangeDowngrade {
		return Result{}, billing.NewValidationError("selection", "passenger selection only applies to downgrades")
	}

	disabled, err := e.reconciler.ApplySelection(ctx, req.CustomerID, req.PassengerIDs, decision.TargetAllowance)
	if err != nil {
		return e.undoSelection(ctx, req.CustomerID, disabled, err)
	}

	prorata := e.prorata(decision, sub)
	change := &billing.ChangeContext{Target: decision.Target, AmountDue: prorata.AmountDue}
	commit, err := e.deps.Mutations.ConfirmSelection(ctx, req.CustomerID, change, req.PassengerIDs,
		decision.TargetAllowance, decision.DowngradeKind)
	if err != nil {
		e.deps.Metrics.RecordPlanChange(string(decision.Kind), "failed")
		return e.undoSelection(ctx, req.CustomerID, disabled, fmt.Errorf("failed to confirm selection: %w", err))
	}

	result, err = e.handleCommit(ctx, req.CustomerID, decision, prorata, commit)
	result.Disabled = disabled
	return result, err
}

// undoSelection gives automation back to passengers disabled for a selection
// that was not committed. Passengers that could not be restored are reported
// in Result.Disabled and named in the error.
func (e *Engine) undoSelection(ctx context.Context, customerID string, disabled []string, cause error) (Result, error) {
	stuck, err := e.reconciler.RestoreAutomation(ctx, customerID, disabled)
	if err != nil {
		return Result{Disabled: stuck}, fmt.Errorf("%w; automation still disabled for %s: %v",
			cause, strings.Join(stuck, ", "), err)
	}
	return Result{}, cause
}

// Reactivate reactivates a passenger under the allowance guard
func (e *Engine) Reactivate(ctx context.Context, customerID, passengerID string, mode allowance.ReactivateMode) (allowance.ReactivateResult, error) {
	ctx, span := e.tracer.Start(ctx, "planchange.Reactivate", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("passenger.id", passengerID),
		attribute.String("mode", string(mode)),
	))
	result, err := e.reconciler.Reactivate(ctx, customerID, passengerID, mode)
	endSpan(span, err)
	return result, err
}

// UpgradeOptions lists what the customer can move to in order to automate
// at least required passengers. Tiers come from the catalog; a custom
// quantity is priced when no tier is large enough.
func (e *Engine) UpgradeOptions(ctx context.Context, currentAllowance, required int) ([]plans.UpgradeOption, error) {
	cat, err := e.deps.Catalog.LoadCatalog(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	var custom []plans.UpgradeOption
	if maxTier, err := cat.MaxTierAllowance(); err == nil && required > maxTier && e.deps.Preview != nil {
		custom = pricing.CustomOptions(ctx, cat, e.deps.Preview, []int{required}, e.cfg.MaxCustomQuantity)
	}
	return cat.UpgradeOptions(currentAllowance, required, custom), nil
}

// CustomerUpgradeOptions computes upgrade options from the customer's fresh
// subscription and usage. A positive required raises the quantity the
// options must cover; it never drops below usage plus one or the current
// allowance plus one.
func (e *Engine) CustomerUpgradeOptions(ctx context.Context, customerID string, required int) ([]plans.UpgradeOption, error) {
	sub, err := e.activeSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}
	current := 0
	if sub != nil {
		current = sub.ContractedAllowance
	}
	used, err := e.deps.Subscriptions.CountAutomated(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count automated passengers: %w", err)
	}
	required = max(required, used+1, current+1)
	return e.UpgradeOptions(ctx, current, required)
}

func (e *Engine) activeSubscription(ctx context.Context, customerID string) (*billing.Subscription, error) {
	sub, err := e.deps.Subscriptions.ActiveSubscription(ctx, customerID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (e *Engine) prorata(decision billing.Decision, sub *billing.Subscription) billing.ProrataResult {
	if decision.Kind != billing.ChangeUpgrade {
		return billing.ProrataResult{AmountDue: decimal.Zero}
	}
	if sub == nil || sub.DueDate == nil || sub.DueDate.IsZero() {
		return billing.ProrataForDays(decision.TargetPrice, decision.CurrentPrice, billing.CycleDays)
	}
	return billing.Prorata(decision.TargetPrice, decision.CurrentPrice, *sub.DueDate, e.deps.Clock.Now())
}

func (e *Engine) mutate(ctx context.Context, customerID string, decision billing.Decision, sel billing.Selection) (billing.CommitResult, error) {
	var (
		commit billing.CommitResult
		err    error
	)
	switch sel.Kind() {
	case billing.SelectionTier:
		commit, err = e.deps.Mutations.ChangeTier(ctx, customerID, sel.TierID())
	case billing.SelectionCustom:
		commit, err = e.deps.Mutations.SetCustomAllowance(ctx, customerID, sel.Quantity())
	default:
		if decision.Kind == billing.ChangeDowngrade {
			commit, err = e.deps.Mutations.Downgrade(ctx, customerID, sel.PlanID())
		} else {
			commit, err = e.deps.Mutations.Upgrade(ctx, customerID, sel.PlanID())
		}
	}
	if err != nil {
		return billing.CommitResult{}, fmt.Errorf("failed to commit %s: %w", sel, err)
	}
	return commit, nil
}

func (e *Engine) handleCommit(ctx context.Context, customerID string, decision billing.Decision,
	prorata billing.ProrataResult, commit billing.CommitResult) (Result, error) {
	logger := e.logger(ctx, customerID)
	result := Result{Decision: decision, Subscription: commit.Subscription}

	switch commit.Kind {
	case billing.CommitApplied:
		result.Outcome = OutcomeApplied
		result.Allowance = decision.TargetAllowance
		if commit.Subscription != nil {
			result.Allowance = commit.Subscription.ContractedAllowance
		}
		if err := e.reconciler.CheckInvariant(ctx, customerID, "commit"); err != nil {
			logger.WithError(err).Error("allowance check after commit failed")
			result.Warning = err.Error()
		}

	case billing.CommitSelectionRequired:
		result.Outcome = OutcomeSelectionRequired
		result.Allowance = commit.Allowance
		result.DowngradeKind = commit.DowngradeKind
		if result.DowngradeKind == "" {
			result.DowngradeKind = decision.DowngradeKind
		}

	case billing.CommitChargeRequired:
		if e.deps.Sessions == nil {
			return Result{}, fmt.Errorf("charge required but no payment sessions configured")
		}
		amount := prorata.AmountDue
		if commit.Charge != nil {
			amount = commit.Charge.Amount
		}
		session, err := e.deps.Sessions.Open(ctx, payment.Params{
			CustomerID: customerID,
			Amount:     amount,
			Target:     decision.Target,
			Allowance:  decision.TargetAllowance,
			Charge:     commit.Charge,
		})
		if err != nil {
			e.deps.Metrics.RecordPlanChange(string(decision.Kind), "failed")
			return Result{}, fmt.Errorf("failed to open payment session: %w", err)
		}
		result.Outcome = OutcomePaymentRequired
		result.Prorata = &prorata
		result.SessionID = session.ID()
		result.Charge = session.Charge()
		result.Allowance = decision.TargetAllowance

	default:
		return Result{}, fmt.Errorf("unknown commit result %q", commit.Kind)
	}

	e.deps.Metrics.RecordPlanChange(string(decision.Kind), string(result.Outcome))
	logger.WithField("kind", string(decision.Kind)).
		WithField("outcome", string(result.Outcome)).
		Info("plan change committed")
	return result, nil
}

func (e *Engine) logger(ctx context.Context, customerID string) *observability.Logger {
	return observability.UpdateLoggerWithTraceContext(ctx, e.deps.Logger).WithField("customer_id", customerID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

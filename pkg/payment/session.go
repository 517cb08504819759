package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/async"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/shopspring/decimal"
)

// ErrChargeCancelled ends a session whose charge was cancelled by the rail
var ErrChargeCancelled = errors.New("charge cancelled")

// VerificationPendingWarning is reported when a payment was confirmed but the
// subscription did not reflect it within the verification budget
const VerificationPendingWarning = "payment received; your subscription update is still processing"

// Issuer issues instant-payment charges. Issuing twice with the same
// idempotency key returns the same charge.
type Issuer interface {
	IssueCharge(ctx context.Context, customerID string, amount decimal.Decimal, idempotencyKey string) (billing.PendingCharge, error)
}

// EventSource delivers charge status events. cancel stops delivery and must
// be safe to call more than once.
type EventSource interface {
	Subscribe(ctx context.Context, chargeID string) (events <-chan billing.ChargeEvent, cancel func(), err error)
}

// ChargeRecorder persists charges so that rail notifications for them can be
// settled and published. Recording the same charge twice is not an error.
type ChargeRecorder interface {
	CreateCharge(ctx context.Context, charge *billing.PendingCharge) error
}

// Config tunes payment sessions
type Config struct {
	PaymentWindow     time.Duration
	PollInterval      time.Duration
	SettleDelay       time.Duration
	AutoContinueDelay time.Duration
	Verify            RetryConfig
}

// DefaultConfig returns the default session settings
func DefaultConfig() Config {
	return Config{
		PaymentWindow:     600 * time.Second,
		PollInterval:      3 * time.Second,
		SettleDelay:       2 * time.Second,
		AutoContinueDelay: 5 * time.Second,
		Verify:            DefaultRetryConfig(),
	}
}

// Params describes what a session is paying for
type Params struct {
	CustomerID string
	Amount     decimal.Decimal
	// Target is the entitlement the subscription must show once paid.
	Target billing.Entitlement
	// Allowance is the allowance reported on success when the refreshed
	// subscription is not available.
	Allowance int
	// Charge attaches a charge returned by the commit instead of issuing one.
	Charge         *billing.PendingCharge
	IdempotencyKey string
}

// Deps are the collaborators shared by sessions
type Deps struct {
	Issuer        Issuer
	Events        EventSource
	Charges       ChargeRecorder
	Subscriptions billing.SubscriptionReader
	Config        Config
	Clock         clockwork.Clock
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	defaults := DefaultConfig()
	if d.Config.PaymentWindow <= 0 {
		d.Config.PaymentWindow = defaults.PaymentWindow
	}
	if d.Config.PollInterval <= 0 {
		d.Config.PollInterval = defaults.PollInterval
	}
	if d.Config.SettleDelay < 0 {
		d.Config.SettleDelay = 0
	}
	if d.Config.AutoContinueDelay <= 0 {
		d.Config.AutoContinueDelay = defaults.AutoContinueDelay
	}
	return d
}

// Outcome is the result of a session so far
type Outcome struct {
	State          State                 `json:"state"`
	ChargeID       string                `json:"charge_id,omitempty"`
	Allowance      int                   `json:"allowance,omitempty"`
	Subscription   *billing.Subscription `json:"subscription,omitempty"`
	Warning        string                `json:"warning,omitempty"`
	Duplicates     int                   `json:"duplicates"`
	VerifyAttempts int                   `json:"verify_attempts"`
	Err            error                 `json:"-"`
}

// Session drives one charge to settlement
type Session struct {
	id     string
	params Params
	deps   Deps
	retry  *RetryPolicy
	logger *observability.Logger

	// ctx bounds verification; chanCtx bounds the two producers.
	ctx        context.Context
	cancel     context.CancelFunc
	chanCtx    context.Context
	chanCancel context.CancelFunc

	mu          sync.Mutex
	state       State
	charge      *billing.PendingCharge
	deadline    time.Time
	finishedAt  time.Time
	outcome     Outcome
	listeners   []func(State)
	ticker      clockwork.Ticker
	expiry      clockwork.Timer
	autoTimer   clockwork.Timer
	unsubscribe func()
	// stopped is set once the producers and countdown are torn down; nothing
	// may be armed after that.
	stopped bool

	signalled  atomic.Bool
	duplicates atomic.Int64
	stopOnce   sync.Once
	doneOnce   sync.Once
	contOnce   sync.Once
	done       chan struct{}
	continued  chan struct{}
}

// NewSession creates an idle session
func NewSession(params Params, deps Deps) *Session {
	deps = deps.withDefaults()

	id := uuid.NewString()
	if params.IdempotencyKey == "" {
		params.IdempotencyKey = id
	}
	logger := deps.Logger.WithField("session_id", id).WithField("customer_id", params.CustomerID)

	base := observability.WithLogger(context.Background(), logger)
	ctx, cancel := context.WithCancel(base)
	chanCtx, chanCancel := context.WithCancel(ctx)
	return &Session{
		id:         id,
		params:     params,
		deps:       deps,
		retry:      NewRetryPolicy(deps.Config.Verify),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		chanCtx:    chanCtx,
		chanCancel: chanCancel,
		state:      StateIdle,
		outcome:    Outcome{State: StateIdle},
		done:       make(chan struct{}),
		continued:  make(chan struct{}),
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// CustomerID returns the paying customer
func (s *Session) CustomerID() string { return s.params.CustomerID }

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Charge returns the charge being paid, nil before issuance
func (s *Session) Charge() *billing.PendingCharge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.charge == nil {
		return nil
	}
	c := *s.charge
	return &c
}

// Outcome returns the session outcome so far
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outcome
	o.Duplicates = int(s.duplicates.Load())
	return o
}

// Done is closed when the session reaches a terminal state
func (s *Session) Done() <-chan struct{} { return s.done }

// Continued is closed when a confirmed session hands control back to the
// hosting flow, either after the auto-continue delay or on ContinueNow
func (s *Session) Continued() <-chan struct{} { return s.continued }

// OnStateChange registers fn to run after every transition. fn runs outside
// the session lock.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Remaining returns the time left to pay. It is zero outside AwaitingPayment.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingPayment {
		return 0
	}
	left := s.deadline.Sub(s.deps.Clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Start issues or attaches the charge and begins waiting for payment
func (s *Session) Start(ctx context.Context) error {
	if s.deps.Subscriptions == nil {
		return fmt.Errorf("payment session requires a subscription reader")
	}
	if err := s.transition(StateIssuing, nil); err != nil {
		return err
	}
	s.deps.Metrics.SessionOpened()

	charge, err := s.obtainCharge(ctx)
	if err != nil {
		s.deps.Metrics.RecordChargeIssued("failed")
		_ = s.transition(StateIssueFailed, func(o *Outcome) { o.Err = err })
		s.release()
		return err
	}

	s.record(ctx, &charge)

	s.mu.Lock()
	s.charge = &charge
	if s.stopped || s.state != StateIssuing {
		state := s.state
		s.mu.Unlock()
		return &TransitionError{From: state, To: StateAwaitingPayment}
	}
	s.deadline = s.deps.Clock.Now().Add(s.deps.Config.PaymentWindow)
	s.expiry = s.deps.Clock.AfterFunc(s.deps.Config.PaymentWindow, s.expire)
	s.mu.Unlock()

	if err := s.transition(StateAwaitingPayment, func(o *Outcome) { o.ChargeID = charge.ID }); err != nil {
		s.stopChannels()
		return err
	}
	s.startProducers(charge.ID)
	s.logger.WithField("charge_id", charge.ID).WithField("amount", charge.Amount.StringFixed(2)).
		Info("awaiting payment")

	if charge.Status == billing.ChargeStatusPaid {
		s.signal("charge")
	}
	return nil
}

func (s *Session) obtainCharge(ctx context.Context) (billing.PendingCharge, error) {
	if c := s.params.Charge; c != nil {
		if c.Status == billing.ChargeStatusCancelled {
			return billing.PendingCharge{}, fmt.Errorf("attached charge %s: %w", c.ID, ErrChargeCancelled)
		}
		s.deps.Metrics.RecordChargeIssued("attached")
		return *c, nil
	}

	if !s.params.Amount.IsPositive() {
		return billing.PendingCharge{}, billing.NewValidationError("amount", "must be greater than zero")
	}
	if s.deps.Issuer == nil {
		return billing.PendingCharge{}, fmt.Errorf("no charge issuer configured")
	}
	charge, err := s.deps.Issuer.IssueCharge(ctx, s.params.CustomerID, s.params.Amount, s.params.IdempotencyKey)
	if err != nil {
		return billing.PendingCharge{}, fmt.Errorf("failed to issue charge: %w", err)
	}
	s.deps.Metrics.RecordChargeIssued("ok")
	return charge, nil
}

// record stores the charge for the webhook path. A failure leaves the poll
// channel as the only way to observe payment, so it is logged, not returned.
func (s *Session) record(ctx context.Context, charge *billing.PendingCharge) {
	if s.deps.Charges == nil {
		return
	}
	if charge.CustomerID == "" {
		charge.CustomerID = s.params.CustomerID
	}
	if err := s.deps.Charges.CreateCharge(ctx, charge); err != nil {
		s.logger.WithField("charge_id", charge.ID).WithError(err).
			Warn("failed to record charge, payment events will not be delivered for it")
	}
}

func (s *Session) startProducers(chargeID string) {
	if s.deps.Events != nil {
		events, cancel, err := s.deps.Events.Subscribe(s.chanCtx, chargeID)
		if err != nil {
			s.logger.WithError(err).Warn("charge event subscription failed, relying on polling")
		} else {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				cancel()
				return
			}
			s.unsubscribe = cancel
			s.mu.Unlock()
			async.SafeGoNoError(s.chanCtx, 0, "charge events", func(ctx context.Context) {
				s.consumeEvents(ctx, events)
			})
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.ticker = s.deps.Clock.NewTicker(s.deps.Config.PollInterval)
	tick := s.ticker.Chan()
	s.mu.Unlock()
	async.SafeGoNoError(s.chanCtx, 0, "subscription poll", func(ctx context.Context) {
		s.pollLoop(ctx, tick)
	})
}

func (s *Session) consumeEvents(ctx context.Context, events <-chan billing.ChargeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Status {
			case billing.ChargeStatusPaid:
				s.signal("event")
			case billing.ChargeStatusCancelled:
				s.cancelled()
			}
		}
	}
}

func (s *Session) pollLoop(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			sub, err := s.deps.Subscriptions.ActiveSubscription(ctx, s.params.CustomerID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.WithError(err).Debug("subscription poll failed")
				}
				continue
			}
			if billing.Reflects(sub, s.params.Target) {
				s.signal("poll")
			}
		}
	}
}

// signal is the one sink both producers feed. The first caller moves the
// session to Verifying; later callers only count as duplicates.
func (s *Session) signal(source string) {
	if !s.signalled.CompareAndSwap(false, true) {
		s.duplicates.Add(1)
		s.deps.Metrics.RecordPaymentSignal(source, "duplicate")
		return
	}
	s.deps.Metrics.RecordPaymentSignal(source, "accepted")

	s.stopChannels()
	if err := s.transition(StateVerifying, nil); err != nil {
		s.logger.WithField("source", source).WithError(err).Warn("payment signal after session ended")
		return
	}
	s.logger.WithField("source", source).Info("payment signal received")
	async.SafeGoNoError(s.ctx, 0, "payment verification", s.verify)
}

func (s *Session) verify(ctx context.Context) {
	if d := s.deps.Config.SettleDelay; d > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.deps.Clock.After(d):
		}
	}

	var (
		sub      *billing.Subscription
		attempts int
	)
	for attempts < s.retry.MaxAttempts() {
		attempts++
		fresh, err := s.deps.Subscriptions.ActiveSubscription(ctx, s.params.CustomerID)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			sub = fresh
			if billing.Reflects(fresh, s.params.Target) {
				s.confirm(sub, attempts, "")
				return
			}
		}
		if attempts == s.retry.MaxAttempts() {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-s.deps.Clock.After(s.retry.NextDelay(attempts)):
		}
	}

	s.logger.WithField("attempts", attempts).Warn("subscription did not reflect payment within verification budget")
	s.confirm(nil, attempts, VerificationPendingWarning)
}

func (s *Session) confirm(sub *billing.Subscription, attempts int, warning string) {
	s.deps.Metrics.RecordVerificationAttempts(attempts)

	s.mu.Lock()
	s.autoTimer = s.deps.Clock.AfterFunc(s.deps.Config.AutoContinueDelay, s.ContinueNow)
	s.mu.Unlock()

	err := s.transition(StateConfirmed, func(o *Outcome) {
		o.Subscription = sub
		o.Allowance = s.params.Allowance
		if sub != nil {
			o.Allowance = sub.ContractedAllowance
		}
		o.Warning = warning
		o.VerifyAttempts = attempts
	})
	if err != nil {
		s.mu.Lock()
		s.autoTimer.Stop()
		s.mu.Unlock()
		return
	}
	s.release()
}

// ContinueNow hands control back to the hosting flow without waiting for
// the auto-continue delay. It only has an effect once confirmed.
func (s *Session) ContinueNow() {
	s.mu.Lock()
	if s.state != StateConfirmed {
		s.mu.Unlock()
		return
	}
	if s.autoTimer != nil {
		s.autoTimer.Stop()
	}
	s.mu.Unlock()
	s.contOnce.Do(func() { close(s.continued) })
}

func (s *Session) expire() {
	if s.signalled.Load() {
		return
	}
	s.stopChannels()
	if err := s.transition(StateExpired, nil); err != nil {
		return
	}
	s.logger.Info("payment window elapsed")
	s.release()
}

func (s *Session) cancelled() {
	s.stopChannels()
	if err := s.transition(StateExpired, func(o *Outcome) { o.Err = ErrChargeCancelled }); err != nil {
		return
	}
	s.logger.Info("charge cancelled by payment rail")
	s.release()
}

// Close stops polling and the event subscription before returning. A
// confirmation already committed is kept and the charge is left as is.
func (s *Session) Close() {
	s.stopChannels()
	s.cancel()

	s.mu.Lock()
	if s.autoTimer != nil {
		s.autoTimer.Stop()
	}
	s.mu.Unlock()

	_ = s.transition(StateClosed, nil)
}

// stopChannels stops both producers and the payment countdown. Safe to call
// from any goroutine, including the producers themselves.
func (s *Session) stopChannels() {
	s.stopOnce.Do(func() {
		s.chanCancel()
		s.mu.Lock()
		s.stopped = true
		if s.ticker != nil {
			s.ticker.Stop()
		}
		if s.expiry != nil {
			s.expiry.Stop()
		}
		unsubscribe := s.unsubscribe
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// release frees resources held for a session that reached a terminal state
func (s *Session) release() {
	s.stopChannels()
	s.cancel()
}

func (s *Session) transition(to State, mutate func(*Outcome)) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	s.state = to
	s.outcome.State = to
	if mutate != nil {
		mutate(&s.outcome)
	}
	if to.IsTerminal() {
		s.finishedAt = s.deps.Clock.Now()
	}
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()

	s.logger.WithField("from", string(from)).WithField("to", string(to)).Debug("payment session transition")
	if to.IsTerminal() {
		if from != StateIdle {
			s.deps.Metrics.SessionFinished(string(to))
		}
		s.doneOnce.Do(func() { close(s.done) })
	}
	for _, fn := range listeners {
		fn(to)
	}
	return nil
}

func (s *Session) finished() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt, s.state.IsTerminal()
}

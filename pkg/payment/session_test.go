package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 2 * time.Second

var (
	currentTier = billing.TierEntitlement("complete", "t10")
	targetTier  = billing.TierEntitlement("complete", "t20")
)

type mockIssuer struct {
	mu        sync.Mutex
	issueFunc func(ctx context.Context, customerID string, amount decimal.Decimal, key string) (billing.PendingCharge, error)
	keys      []string
}

func (m *mockIssuer) IssueCharge(ctx context.Context, customerID string, amount decimal.Decimal, key string) (billing.PendingCharge, error) {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	if m.issueFunc != nil {
		return m.issueFunc(ctx, customerID, amount, key)
	}
	return billing.PendingCharge{
		ID:         "ch-1",
		CustomerID: customerID,
		Amount:     amount,
		Payload:    "00020126PIX",
		Status:     billing.ChargeStatusPendingPayment,
	}, nil
}

type chanEventSource struct {
	mu           sync.Mutex
	ch           chan billing.ChargeEvent
	chargeID     string
	cancels      int
	subscribeErr error
}

func (c *chanEventSource) Subscribe(ctx context.Context, chargeID string) (<-chan billing.ChargeEvent, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, nil, c.subscribeErr
	}
	c.ch = make(chan billing.ChargeEvent, 8)
	c.chargeID = chargeID
	return c.ch, func() {
		c.mu.Lock()
		c.cancels++
		c.mu.Unlock()
	}, nil
}

func (c *chanEventSource) send(status billing.ChargeStatus) {
	c.mu.Lock()
	ch, id := c.ch, c.chargeID
	c.mu.Unlock()
	ch <- billing.ChargeEvent{ChargeID: id, Status: status}
}

func (c *chanEventSource) Cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

type mockSubscriptions struct {
	mu         sync.Mutex
	reflecting bool
	calls      int
}

func (m *mockSubscriptions) setReflecting(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reflecting = v
}

func (m *mockSubscriptions) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockSubscriptions) ActiveSubscription(ctx context.Context, customerID string) (*billing.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	sub := &billing.Subscription{ID: "sub-1", CustomerID: customerID, Active: true, Entitlement: currentTier, ContractedAllowance: 10}
	if m.reflecting {
		sub.Entitlement = targetTier
		sub.ContractedAllowance = 20
	}
	return sub, nil
}

func (m *mockSubscriptions) CountAutomated(ctx context.Context, customerID string) (int, error) {
	return 0, nil
}

type sessionFixture struct {
	session *Session
	issuer  *mockIssuer
	events  *chanEventSource
	subs    *mockSubscriptions
	clock   *clockwork.FakeClock
	states  *stateRecorder
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

func testDeps(clock clockwork.Clock, issuer Issuer, events EventSource, subs billing.SubscriptionReader) Deps {
	cfg := DefaultConfig()
	cfg.Verify = RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 2 * time.Second, BackoffMultiplier: 1.5}
	return Deps{Issuer: issuer, Events: events, Subscriptions: subs, Config: cfg, Clock: clock}
}

func newSessionFixture(t *testing.T, params Params) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		issuer: &mockIssuer{},
		events: &chanEventSource{},
		subs:   &mockSubscriptions{},
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)),
		states: &stateRecorder{},
	}
	if params.CustomerID == "" {
		params.CustomerID = "cust-1"
	}
	if params.Target.Kind == "" {
		params.Target = targetTier
	}
	if params.Amount.IsZero() && params.Charge == nil {
		params.Amount = decimal.RequireFromString("23.33")
	}
	f.session = NewSession(params, testDeps(f.clock, f.issuer, f.events, f.subs))
	f.session.OnStateChange(f.states.record)
	t.Cleanup(f.session.Close)
	return f
}

func (f *sessionFixture) waitFor(t *testing.T, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.session.State() == state }, 2*time.Second, 5*time.Millisecond,
		"want %s, have %s", state, f.session.State())
}

// advanceWhenWaiting advances the clock once the session has a timer pending
func (f *sessionFixture) advanceWhenWaiting(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(d)
}

func TestSession_EventConfirms(t *testing.T) {
	f := newSessionFixture(t, Params{Allowance: 20})
	ctx := context.Background()

	require.NoError(t, f.session.Start(ctx))
	assert.Equal(t, StateAwaitingPayment, f.session.State())
	assert.Equal(t, 600*time.Second, f.session.Remaining())
	require.NotNil(t, f.session.Charge())
	assert.Equal(t, "ch-1", f.session.Charge().ID)
	assert.Equal(t, []string{f.session.ID()}, f.issuer.keys, "session id is the issuance idempotency key")

	f.subs.setReflecting(true)
	f.events.send(billing.ChargeStatusPaid)
	f.waitFor(t, StateVerifying)
	assert.Equal(t, 1, f.events.Cancels())
	assert.Zero(t, f.session.Remaining())

	f.advanceWhenWaiting(t, settle)
	f.waitFor(t, StateConfirmed)

	outcome := f.session.Outcome()
	assert.Equal(t, 20, outcome.Allowance)
	assert.Equal(t, 1, outcome.VerifyAttempts)
	assert.Empty(t, outcome.Warning)
	assert.Equal(t, "ch-1", outcome.ChargeID)
	require.NotNil(t, outcome.Subscription)
	assert.Equal(t, targetTier, outcome.Subscription.Entitlement)

	select {
	case <-f.session.Done():
	default:
		t.Fatal("confirmed session should be done")
	}

	f.advanceWhenWaiting(t, DefaultConfig().AutoContinueDelay)
	require.Eventually(t, func() bool {
		select {
		case <-f.session.Continued():
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_PollConfirms(t *testing.T) {
	f := newSessionFixture(t, Params{})
	f.session.deps.Events = nil

	require.NoError(t, f.session.Start(context.Background()))
	f.subs.setReflecting(true)

	f.clock.Advance(DefaultConfig().PollInterval)
	f.waitFor(t, StateVerifying)

	f.advanceWhenWaiting(t, settle)
	f.waitFor(t, StateConfirmed)
	assert.Equal(t, 20, f.session.Outcome().Allowance)
}

func TestSession_DuplicateSignals(t *testing.T) {
	f := newSessionFixture(t, Params{})
	require.NoError(t, f.session.Start(context.Background()))
	f.subs.setReflecting(true)

	const signals = 10
	var wg sync.WaitGroup
	for i := 0; i < signals; i++ {
		wg.Add(1)
		source := "event"
		if i%2 == 0 {
			source = "poll"
		}
		go func() {
			defer wg.Done()
			f.session.signal(source)
		}()
	}
	wg.Wait()
	f.waitFor(t, StateVerifying)

	f.advanceWhenWaiting(t, settle)
	f.waitFor(t, StateConfirmed)

	assert.Equal(t, signals-1, f.session.Outcome().Duplicates)
	assert.Equal(t, 1, f.states.count(StateVerifying))
	assert.Equal(t, 1, f.states.count(StateConfirmed))
	assert.Equal(t, 1, f.subs.Calls(), "one refresh sequence")

	f.session.signal("event")
	assert.Equal(t, signals, f.session.Outcome().Duplicates)
	assert.Equal(t, StateConfirmed, f.session.State())
}

func TestSession_VerificationExhausted(t *testing.T) {
	f := newSessionFixture(t, Params{Allowance: 20})
	require.NoError(t, f.session.Start(context.Background()))

	f.events.send(billing.ChargeStatusPaid)
	f.waitFor(t, StateVerifying)

	f.advanceWhenWaiting(t, settle)
	f.advanceWhenWaiting(t, 2*time.Second)
	f.advanceWhenWaiting(t, 2*time.Second)
	f.waitFor(t, StateConfirmed)

	outcome := f.session.Outcome()
	assert.Equal(t, VerificationPendingWarning, outcome.Warning)
	assert.Equal(t, 3, outcome.VerifyAttempts)
	assert.Equal(t, 20, outcome.Allowance)
	assert.Nil(t, outcome.Subscription)
	assert.Equal(t, 3, f.subs.Calls())
}

func TestSession_Expires(t *testing.T) {
	f := newSessionFixture(t, Params{})
	require.NoError(t, f.session.Start(context.Background()))

	f.clock.Advance(4 * time.Minute)
	assert.Equal(t, 6*time.Minute, f.session.Remaining())

	f.clock.Advance(6 * time.Minute)
	f.waitFor(t, StateExpired)
	assert.Zero(t, f.session.Remaining())
	assert.Equal(t, 1, f.events.Cancels())
	assert.NoError(t, f.session.Outcome().Err)

	select {
	case <-f.session.Done():
	default:
		t.Fatal("expired session should be done")
	}

	f.session.signal("event")
	assert.Equal(t, StateExpired, f.session.State(), "late payment does not revive the session")
}

func TestSession_CancelledEvent(t *testing.T) {
	f := newSessionFixture(t, Params{})
	require.NoError(t, f.session.Start(context.Background()))

	f.events.send(billing.ChargeStatusCancelled)
	f.waitFor(t, StateExpired)
	assert.ErrorIs(t, f.session.Outcome().Err, ErrChargeCancelled)
}

func TestSession_IssueFailure(t *testing.T) {
	f := newSessionFixture(t, Params{})
	f.issuer.issueFunc = func(ctx context.Context, customerID string, amount decimal.Decimal, key string) (billing.PendingCharge, error) {
		return billing.PendingCharge{}, &billing.RemoteError{Op: "issue charge", Status: 503}
	}

	err := f.session.Start(context.Background())
	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err))
	assert.Equal(t, StateIssueFailed, f.session.State())
	assert.Error(t, f.session.Outcome().Err)
	assert.Nil(t, f.session.Charge())

	err = f.session.Start(context.Background())
	var te *TransitionError
	assert.True(t, errors.As(err, &te))
}

func TestSession_ZeroAmount(t *testing.T) {
	f := newSessionFixture(t, Params{Amount: decimal.Zero, Charge: nil})
	f.session.params.Amount = decimal.Zero

	err := f.session.Start(context.Background())
	require.Error(t, err)
	assert.True(t, billing.IsValidationError(err))
	assert.Equal(t, StateIssueFailed, f.session.State())
	assert.Empty(t, f.issuer.keys)
}

func TestSession_AttachCharge(t *testing.T) {
	charge := &billing.PendingCharge{ID: "ch-commit", Amount: decimal.RequireFromString("40"), Status: billing.ChargeStatusPendingPayment}
	f := newSessionFixture(t, Params{Charge: charge})

	require.NoError(t, f.session.Start(context.Background()))
	assert.Empty(t, f.issuer.keys)
	assert.Equal(t, "ch-commit", f.session.Charge().ID)
	assert.Equal(t, StateAwaitingPayment, f.session.State())
}

func TestSession_AttachPaidCharge(t *testing.T) {
	charge := &billing.PendingCharge{ID: "ch-commit", Status: billing.ChargeStatusPaid}
	f := newSessionFixture(t, Params{Charge: charge})
	f.subs.setReflecting(true)

	require.NoError(t, f.session.Start(context.Background()))
	f.waitFor(t, StateVerifying)
	f.advanceWhenWaiting(t, settle)
	f.waitFor(t, StateConfirmed)
}

func TestSession_AttachCancelledCharge(t *testing.T) {
	charge := &billing.PendingCharge{ID: "ch-commit", Status: billing.ChargeStatusCancelled}
	f := newSessionFixture(t, Params{Charge: charge})

	err := f.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrChargeCancelled)
	assert.Equal(t, StateIssueFailed, f.session.State())
}

func TestSession_SubscribeFailureFallsBackToPolling(t *testing.T) {
	f := newSessionFixture(t, Params{})
	f.events.subscribeErr = errors.New("redis down")

	require.NoError(t, f.session.Start(context.Background()))
	f.subs.setReflecting(true)
	f.clock.Advance(DefaultConfig().PollInterval)
	f.waitFor(t, StateVerifying)
}

func TestSession_CloseWhileAwaiting(t *testing.T) {
	f := newSessionFixture(t, Params{})
	require.NoError(t, f.session.Start(context.Background()))

	f.session.Close()
	assert.Equal(t, StateClosed, f.session.State())
	assert.Equal(t, 1, f.events.Cancels(), "unsubscribed before Close returns")

	f.subs.setReflecting(true)
	f.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return f.subs.Calls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	f.session.signal("event")
	assert.Equal(t, StateClosed, f.session.State())
}

func TestSession_CloseWhileVerifying(t *testing.T) {
	f := newSessionFixture(t, Params{})
	require.NoError(t, f.session.Start(context.Background()))
	f.subs.setReflecting(true)

	f.events.send(billing.ChargeStatusPaid)
	f.waitFor(t, StateVerifying)

	f.session.Close()
	assert.Equal(t, StateClosed, f.session.State())
	f.clock.Advance(settle)
	assert.Never(t, func() bool { return f.session.State() != StateClosed }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSession_ContinueNow(t *testing.T) {
	f := newSessionFixture(t, Params{})
	f.session.ContinueNow()
	select {
	case <-f.session.Continued():
		t.Fatal("continue before confirmation should be ignored")
	default:
	}

	require.NoError(t, f.session.Start(context.Background()))
	f.subs.setReflecting(true)
	f.session.signal("poll")
	f.waitFor(t, StateVerifying)
	f.advanceWhenWaiting(t, settle)
	f.waitFor(t, StateConfirmed)

	f.session.ContinueNow()
	f.session.ContinueNow()
	select {
	case <-f.session.Continued():
	default:
		t.Fatal("ContinueNow should release the hosting flow")
	}
}

func TestSession_RequiresSubscriptionReader(t *testing.T) {
	s := NewSession(Params{CustomerID: "cust-1", Amount: decimal.NewFromInt(1)}, Deps{})
	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ExpiryAfterSignalIsIgnored(t *testing.T) {
	f := newSessionFixture(t, Params{})
	require.NoError(t, f.session.Start(context.Background()))

	// the countdown fires between the signal claiming the sink and its transition
	f.session.signalled.Store(true)
	f.session.expire()
	assert.Equal(t, StateAwaitingPayment, f.session.State())
	assert.Zero(t, f.states.count(StateExpired))
}

func TestSession_CloseWhileIssuing(t *testing.T) {
	f := newSessionFixture(t, Params{})
	issuing := make(chan struct{})
	release := make(chan struct{})
	f.issuer.issueFunc = func(ctx context.Context, customerID string, amount decimal.Decimal, key string) (billing.PendingCharge, error) {
		close(issuing)
		<-release
		return billing.PendingCharge{ID: "ch-1", CustomerID: customerID, Amount: amount, Status: billing.ChargeStatusPendingPayment}, nil
	}

	errc := make(chan error, 1)
	go func() { errc <- f.session.Start(context.Background()) }()
	<-issuing

	f.session.Close()
	close(release)

	err := <-errc
	var te *TransitionError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, StateClosed, f.session.State())

	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	assert.Nil(t, f.session.expiry, "no countdown after close")
	assert.Nil(t, f.session.ticker, "no poll after close")
}

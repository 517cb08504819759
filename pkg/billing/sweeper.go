package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultChargeExpiry is how long a charge may stay pending before the sweeper cancels it
const DefaultChargeExpiry = 10 * time.Minute

// ChargeExpirer cancels stale pending charges
type ChargeExpirer interface {
	ExpireStaleCharges(ctx context.Context, before time.Time) ([]string, error)
}

// SweepResult reports one sweep
type SweepResult struct {
	Expired []string
	// Unpublished lists expired charges whose cancelled event could not be
	// published. They stay cancelled; live sessions fall back to expiry.
	Unpublished []string
}

// Sweeper cancels pending charges older than the expiry window and tells
// live payment sessions about it
type Sweeper struct {
	store     ChargeExpirer
	publisher EventPublisher
	expiry    time.Duration
	clock     clockwork.Clock
}

// NewSweeper creates a Sweeper. A nil publisher only expires charges.
func NewSweeper(store ChargeExpirer, publisher EventPublisher, expiry time.Duration, clock clockwork.Clock) *Sweeper {
	if expiry <= 0 {
		expiry = DefaultChargeExpiry
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{store: store, publisher: publisher, expiry: expiry, clock: clock}
}

// Sweep runs one expiry pass
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.clock.Now()
	ids, err := s.store.ExpireStaleCharges(ctx, now.Add(-s.expiry))
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to sweep charges: %w", err)
	}

	result := SweepResult{Expired: ids}
	if s.publisher == nil {
		return result, nil
	}
	for _, id := range ids {
		event := ChargeEvent{ChargeID: id, Status: ChargeStatusCancelled, At: now}
		if err := s.publisher.PublishChargeEvent(ctx, event); err != nil {
			result.Unpublished = append(result.Unpublished, id)
		}
	}
	return result, nil
}

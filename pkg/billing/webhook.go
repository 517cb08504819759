package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/observability"
)

// Webhook event types sent by the payment rail
const (
	EventChargePaid      = "charge.paid"
	EventChargeCancelled = "charge.cancelled"
)

// ErrInvalidSignature is returned when a webhook signature does not verify
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is a notification from the payment rail
type WebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		ChargeID string `json:"charge_id"`
	} `json:"data"`
}

// ChargeStore settles charges
type ChargeStore interface {
	MarkChargePaid(ctx context.Context, id string, paidAt time.Time) (ChargeStatus, error)
	CancelCharge(ctx context.Context, id string) (ChargeStatus, error)
}

// EventPublisher fans charge events out to live payment sessions
type EventPublisher interface {
	PublishChargeEvent(ctx context.Context, event ChargeEvent) error
}

// WebhookHandler applies payment rail notifications to stored charges and
// republishes them as ChargeEvents
type WebhookHandler struct {
	store     ChargeStore
	publisher EventPublisher
	secret    string
	clock     clockwork.Clock
	logger    *observability.Logger
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables signature checks.
func NewWebhookHandler(store ChargeStore, publisher EventPublisher, secret string, clock clockwork.Clock, logger *observability.Logger) *WebhookHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &WebhookHandler{
		store:     store,
		publisher: publisher,
		secret:    secret,
		clock:     clock,
		logger:    logger,
	}
}

// Sign computes the hex HMAC-SHA256 signature of payload
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleWebhook verifies, parses and applies a webhook notification. Repeated
// deliveries are safe: a charge settles once and the event is republished.
func (h *WebhookHandler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if h.secret != "" && !hmac.Equal([]byte(Sign(h.secret, payload)), []byte(signature)) {
		return ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to parse webhook: %w", err)
	}

	at := h.clock.Now()
	if event.Created > 0 {
		at = time.Unix(event.Created, 0).UTC()
	}

	switch event.Type {
	case EventChargePaid:
		return h.handleChargePaid(ctx, event.Data.ChargeID, at)
	case EventChargeCancelled:
		return h.handleChargeCancelled(ctx, event.Data.ChargeID, at)
	default:
		// Unknown event type, ignore
		return nil
	}
}

func (h *WebhookHandler) handleChargePaid(ctx context.Context, chargeID string, at time.Time) error {
	if chargeID == "" {
		return NewValidationError("charge_id", "missing charge id")
	}
	status, err := h.store.MarkChargePaid(ctx, chargeID, at)
	if err != nil {
		return fmt.Errorf("failed to mark charge %s paid: %w", chargeID, err)
	}
	if status != ChargeStatusPaid {
		h.logger.WithField("charge_id", chargeID).WithField("status", string(status)).
			Warn("payment received for a charge that is no longer pending")
		return nil
	}
	return h.publish(ctx, ChargeEvent{ChargeID: chargeID, Status: ChargeStatusPaid, At: at})
}

func (h *WebhookHandler) handleChargeCancelled(ctx context.Context, chargeID string, at time.Time) error {
	if chargeID == "" {
		return NewValidationError("charge_id", "missing charge id")
	}
	status, err := h.store.CancelCharge(ctx, chargeID)
	if err != nil {
		return fmt.Errorf("failed to cancel charge %s: %w", chargeID, err)
	}
	if status != ChargeStatusCancelled {
		return nil
	}
	return h.publish(ctx, ChargeEvent{ChargeID: chargeID, Status: ChargeStatusCancelled, At: at})
}

func (h *WebhookHandler) publish(ctx context.Context, event ChargeEvent) error {
	if h.publisher == nil {
		return nil
	}
	if err := h.publisher.PublishChargeEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish charge event: %w", err)
	}
	return nil
}

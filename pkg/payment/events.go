package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/observability"
)

const channelPrefix = "tierflow:charges:"

// ChannelName returns the pubsub channel carrying a charge's events
func ChannelName(chargeID string) string {
	return channelPrefix + chargeID
}

// RedisEventSource publishes and subscribes to charge events over Redis pubsub
type RedisEventSource struct {
	client *redis.Client
	logger *observability.Logger
}

// NewRedisEventSource creates a new RedisEventSource
func NewRedisEventSource(client *redis.Client, logger *observability.Logger) *RedisEventSource {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisEventSource{client: client, logger: logger}
}

// PublishChargeEvent publishes ev on the charge's channel
func (s *RedisEventSource) PublishChargeEvent(ctx context.Context, ev billing.ChargeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal charge event: %w", err)
	}
	if err := s.client.Publish(ctx, ChannelName(ev.ChargeID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish charge event: %w", err)
	}
	return nil
}

// Subscribe delivers events for chargeID until cancel is called or ctx ends
func (s *RedisEventSource) Subscribe(ctx context.Context, chargeID string) (<-chan billing.ChargeEvent, func(), error) {
	pubsub := s.client.Subscribe(ctx, ChannelName(chargeID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to charge events: %w", err)
	}

	ctx, cancelCtx := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			_ = pubsub.Close()
		})
	}

	out := make(chan billing.ChargeEvent, 4)
	messages := pubsub.Channel()
	go func() {
		defer close(out)
		defer observability.RecoverPanic(s.logger, "charge event subscription")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev billing.ChargeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed charge event")
					continue
				}
				if ev.ChargeID != chargeID {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

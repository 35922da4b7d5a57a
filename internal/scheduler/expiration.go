package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
)

// ExpirationCallback handles one expired order id. It must be idempotent: it
// can run concurrently with an operator manually cancelling the same order,
// and the reconciliation sweep drives the same callback for missed events.
type ExpirationCallback func(ctx context.Context, orderID string) error

// ExpirationScheduler arms a distributed payment deadline per pending order
// as a Redis TTL key and surfaces natural expiry through keyspace
// notifications. The scheduler provides no cross-process deduplication beyond
// the TTL event firing once per key; dedup lives in the callback's
// conditional status transition.
type ExpirationScheduler struct {
	logger *slog.Logger
	rdb    *redis.Client
	ttl    time.Duration

	// maxInflight bounds concurrent callback executions so a slow callback
	// does not head-of-line block subsequent expiry events.
	maxInflight int
}

func NewExpirationScheduler(logger *slog.Logger, rdb *redis.Client, ttl time.Duration) *ExpirationScheduler {
	return &ExpirationScheduler{
		logger:      logger,
		rdb:         rdb,
		ttl:         ttl,
		maxInflight: 16,
	}
}

func expireKey(orderID string) string {
	return ports.ExpireKeyPrefix + orderID
}

// Arm creates the TTL record for the order. A write failure here is a hard
// failure: without the key the only safety net left is the reconciliation
// sweep, so the caller must surface it.
func (s *ExpirationScheduler) Arm(ctx context.Context, orderID string) error {
	if err := s.rdb.Set(ctx, expireKey(orderID), orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to arm expiration timer for order %s: %w", orderID, err)
	}

	s.logger.Debug("Expiration timer armed", "order_id", orderID, "ttl", s.ttl.String())
	return nil
}

// Disarm deletes the TTL record. Deleting an absent key is not an error: the
// order may have already expired naturally, or disarm may run twice under
// retry. Failures are logged and swallowed so a terminal status transition
// never fails because of the timer store.
func (s *ExpirationScheduler) Disarm(ctx context.Context, orderID string) {
	if err := s.rdb.Del(ctx, expireKey(orderID)).Err(); err != nil {
		s.logger.Error("Failed to disarm expiration timer", "order_id", orderID, "error", err)
		return
	}

	s.logger.Debug("Expiration timer disarmed", "order_id", orderID)
}

// Listen subscribes to key-expiry events and invokes the callback once per
// observed event in our namespace. Blocks until the context is cancelled;
// on subscription loss it reconnects — keys armed meanwhile still expire in
// Redis, the reconciliation sweep covers events missed during the gap.
func (s *ExpirationScheduler) Listen(ctx context.Context, callback ExpirationCallback) {
	// Expired-key events are off by default on a stock Redis.
	if err := s.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		s.logger.Warn("Failed to enable keyspace notifications, assuming preconfigured", "error", err)
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", s.rdb.Options().DB)
	sem := make(chan struct{}, s.maxInflight)

	for {
		s.logger.Info("Expiration listener subscribing", "channel", channel)

		if err := s.consume(ctx, channel, sem, callback); err != nil {
			s.logger.Error("Expiration listener disconnected, retrying",
				"delay", ports.ListenerReconnectDelay.String(), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(ports.ListenerReconnectDelay):
				continue
			}
		}

		return
	}
}

func (s *ExpirationScheduler) consume(ctx context.Context, channel string, sem chan struct{}, callback ExpirationCallback) error {
	pubsub := s.rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Fail fast if the subscription itself is broken.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to expiry events: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("expiry event stream closed")
			}

			key := msg.Payload
			if !strings.HasPrefix(key, ports.ExpireKeyPrefix) {
				continue
			}
			orderID := strings.TrimPrefix(key, ports.ExpireKeyPrefix)

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			go func() {
				defer func() { <-sem }()
				s.invoke(ctx, orderID, callback)
			}()
		}
	}
}

// invoke runs the callback, containing errors and panics so the listener
// loop keeps processing subsequent events.
func (s *ExpirationScheduler) invoke(ctx context.Context, orderID string, callback ExpirationCallback) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Expiration callback panicked", "order_id", orderID, "panic", r)
		}
	}()

	s.logger.Info("Order expiration event received", "order_id", orderID)

	if err := callback(ctx, orderID); err != nil {
		s.logger.Error("Expiration callback failed", "order_id", orderID, "error", err)
	}
}

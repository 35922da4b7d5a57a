package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

// ExpiredOrderSource lists pending orders whose payment deadline has passed.
type ExpiredOrderSource interface {
	FindExpiredPending(ctx context.Context, now time.Time) ([]entities.Order, error)
}

// ExpirationHandler is the same callback the TTL event listener invokes, so
// both paths converge on one idempotent transition.
type ExpirationHandler interface {
	ExpireOrder(ctx context.Context, orderID string) error
}

// Reconciler periodically expires pending orders the event-driven path
// missed, e.g. after a Redis restart or a listener disconnect. The sweep
// interval bounds how stale a missed expiration can get.
type Reconciler struct {
	logger  *slog.Logger
	orders  ExpiredOrderSource
	handler ExpirationHandler

	sweepInterval time.Duration
}

// NewReconciler creates the reconciliation sweep worker.
func NewReconciler(
	logger *slog.Logger,
	orders ExpiredOrderSource,
	handler ExpirationHandler,
	sweepInterval time.Duration,
) *Reconciler {
	return &Reconciler{
		logger:        logger,
		orders:        orders,
		handler:       handler,
		sweepInterval: sweepInterval,
	}
}

// Start begins the periodic sweep. Blocks until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting expiration reconciler", "sweep_interval", r.sweepInterval.String())

	// Run an initial sweep immediately to cover restarts.
	if err := r.Sweep(ctx); err != nil {
		r.logger.Error("Initial expiration sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Expiration reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("Expiration sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires every overdue pending order through the shared callback.
// Per-order failures are logged and do not stop the rest of the batch.
func (r *Reconciler) Sweep(ctx context.Context) error {
	overdue, err := r.orders.FindExpiredPending(ctx, time.Now())
	if err != nil {
		return err
	}

	if len(overdue) == 0 {
		r.logger.Debug("No overdue pending orders")
		return nil
	}

	r.logger.Info("Expiring overdue pending orders", "count", len(overdue))

	for _, order := range overdue {
		if err := r.handler.ExpireOrder(ctx, order.ID); err != nil {
			r.logger.Error("Failed to expire overdue order", "order_id", order.ID, "error", err)
		}
	}

	return nil
}

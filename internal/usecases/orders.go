package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

var _ ports.OrderService = (*OrderService)(nil)

// actor labels for the order audit log.
const (
	actorExpiration = "system:expiration"
	actorOperator   = "operator"
	actorCustomer   = "customer"
)

type OrdersRepository interface {
	FindByID(ctx context.Context, orderID string) (*entities.Order, error)
	InsertOrder(ctx context.Context, order *entities.Order) error
	UpdateStatusFrom(ctx context.Context, orderID string, from, to entities.OrderStatus, actor string) (bool, error)
	AssignToOperator(ctx context.Context, orderID string, operatorID int64) error
	FindExpiredPending(ctx context.Context, now time.Time) ([]entities.Order, error)
}

// WalletAllocator is the pool surface the order lifecycle needs.
type WalletAllocator interface {
	Allocate(ctx context.Context, currency string, tokenStandard *string, orderID string) (*entities.Wallet, error)
	Release(ctx context.Context, address string) error
}

// OrderEventPublisher fans order lifecycle events out to live subscribers,
// e.g. operator dashboards. Implementations must not block.
type OrderEventPublisher interface {
	Publish(orderID string, status entities.OrderStatus)
}

// NoopPublisher satisfies OrderEventPublisher when no live feed is wired.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, entities.OrderStatus) {}

// OrderService coordinates the settlement lifecycle: wallet allocation,
// the distributed payment deadline and operator notifications. Status
// transitions are conditional single-row updates, which is what keeps the
// expiration callback idempotent across the listener, the sweep and manual
// cancellation.
type OrderService struct {
	logger    *slog.Logger
	repo      OrdersRepository
	pool      WalletAllocator
	scheduler ports.ExpirationScheduler
	notifier  ports.Notifier
	events    OrderEventPublisher

	orderTTL time.Duration
}

func NewOrderService(
	logger *slog.Logger,
	repo OrdersRepository,
	pool WalletAllocator,
	scheduler ports.ExpirationScheduler,
	notifier ports.Notifier,
	events OrderEventPublisher,
	orderTTL time.Duration,
) *OrderService {
	if events == nil {
		events = NoopPublisher{}
	}
	return &OrderService{
		logger:    logger,
		repo:      repo,
		pool:      pool,
		scheduler: scheduler,
		notifier:  notifier,
		events:    events,
		orderTTL:  orderTTL,
	}
}

// CreateOrder allocates a deposit wallet, persists the PENDING order, arms
// its payment deadline and tells the operators. Allocation failure and a
// failed deadline arm both abort creation: without the armed timer the only
// safety net is the reconciliation sweep, so we refuse to leave a pending
// order behind on purpose.
func (s *OrderService) CreateOrder(ctx context.Context, req ports.CreateOrderRequest) (*entities.Order, error) {
	cryptoAmount, err := decimal.NewFromString(req.CryptoAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid crypto amount %q: %w", req.CryptoAmount, err)
	}
	uahAmount, err := decimal.NewFromString(req.UAHAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid uah amount %q: %w", req.UAHAmount, err)
	}
	rate := decimal.Zero
	if req.Rate != "" {
		if rate, err = decimal.NewFromString(req.Rate); err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", req.Rate, err)
		}
	}

	orderID := uuid.NewString()

	wallet, err := s.pool.Allocate(ctx, req.Currency, req.TokenStandard, orderID)
	if err != nil {
		return nil, fmt.Errorf("wallet allocation failed: %w", err)
	}
	if wallet == nil {
		return nil, ports.ErrNoWalletAvailable
	}

	now := time.Now()
	order := &entities.Order{
		ID:             orderID,
		Status:         entities.OrderPending,
		Currency:       req.Currency,
		TokenStandard:  req.TokenStandard,
		CryptoAmount:   cryptoAmount,
		UAHAmount:      uahAmount,
		DepositAddress: wallet.Address,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.orderTTL),
	}

	if err = s.repo.InsertOrder(ctx, order); err != nil {
		s.releaseWallet(ctx, wallet.Address, orderID)
		return nil, err
	}

	if err = s.scheduler.Arm(ctx, orderID); err != nil {
		s.logger.Error("Failed to arm expiration timer, aborting order", "order_id", orderID, "error", err)
		if _, ferr := s.repo.UpdateStatusFrom(ctx, orderID, entities.OrderPending, entities.OrderFailed, actorCustomer); ferr != nil {
			s.logger.Error("Failed to mark order as failed", "order_id", orderID, "error", ferr)
		}
		s.releaseWallet(ctx, wallet.Address, orderID)
		return nil, err
	}

	s.notifier.Enqueue(ctx, entities.NotificationOrderCreated, entities.NotificationPayload{
		OrderID:        orderID,
		Currency:       order.Currency,
		TokenStandard:  order.TokenStandard,
		CryptoAmount:   order.CryptoAmount,
		UAHAmount:      order.UAHAmount,
		Rate:           rate,
		DepositAddress: order.DepositAddress,
		WalletReused:   wallet.Reused(),
	})
	s.events.Publish(orderID, entities.OrderPending)

	s.logger.Info("Order created",
		"order_id", orderID,
		"currency", order.Currency,
		"deposit_address", order.DepositAddress,
		"expires_at", order.ExpiresAt)

	return order, nil
}

// GetOrder retrieves one order.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ports.ErrOrderNotFound
	}
	return order, nil
}

// MarkPaid transitions PENDING -> PROCESSING once an operator confirmed the
// deposit, disarms the payment deadline and assigns the order. The wallet
// stays allocated until completion.
func (s *OrderService) MarkPaid(ctx context.Context, orderID string, operatorID int64) error {
	applied, err := s.repo.UpdateStatusFrom(ctx, orderID, entities.OrderPending, entities.OrderProcessing, actorOperator)
	if err != nil {
		return err
	}
	if !applied {
		return s.transitionConflict(ctx, orderID)
	}

	s.scheduler.Disarm(ctx, orderID)

	if err = s.repo.AssignToOperator(ctx, orderID, operatorID); err != nil {
		return err
	}

	s.events.Publish(orderID, entities.OrderProcessing)
	s.logger.Info("Order marked as paid", "order_id", orderID, "operator_id", operatorID)
	return nil
}

// CompleteOrder transitions PROCESSING -> COMPLETED, releases the deposit
// wallet and tells the operators.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	applied, err := s.repo.UpdateStatusFrom(ctx, orderID, entities.OrderProcessing, entities.OrderCompleted, actorOperator)
	if err != nil {
		return err
	}
	if !applied {
		return s.transitionConflict(ctx, orderID)
	}

	s.scheduler.Disarm(ctx, orderID)
	s.releaseWallet(ctx, order.DepositAddress, orderID)

	s.notifier.Enqueue(ctx, entities.NotificationOrderCompleted, s.payloadFor(order))
	s.events.Publish(orderID, entities.OrderCompleted)

	s.logger.Info("Order completed", "order_id", orderID)
	return nil
}

// CancelOrder transitions PENDING -> CANCELLED, disarms the deadline and
// releases the deposit wallet. Safe to race with natural expiry: exactly one
// of the two conditional transitions applies.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	applied, err := s.repo.UpdateStatusFrom(ctx, orderID, entities.OrderPending, entities.OrderCancelled, actorOperator)
	if err != nil {
		return err
	}
	if !applied {
		return s.transitionConflict(ctx, orderID)
	}

	s.scheduler.Disarm(ctx, orderID)
	s.releaseWallet(ctx, order.DepositAddress, orderID)

	s.notifier.Enqueue(ctx, entities.NotificationOrderCancelled, s.payloadFor(order))
	s.events.Publish(orderID, entities.OrderCancelled)

	s.logger.Info("Order cancelled", "order_id", orderID)
	return nil
}

// ExpireOrder is the expiration callback shared by the TTL event listener
// and the reconciliation sweep. Idempotent: the conditional PENDING ->
// EXPIRED transition applies at most once, every other invocation is a
// no-op.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID string) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		s.logger.Warn("Expiration fired for unknown order", "order_id", orderID)
		return nil
	}

	applied, err := s.repo.UpdateStatusFrom(ctx, orderID, entities.OrderPending, entities.OrderExpired, actorExpiration)
	if err != nil {
		return err
	}
	if !applied {
		// Already paid, cancelled or expired through the other path.
		s.logger.Debug("Expiration skipped, order no longer pending",
			"order_id", orderID, "status", string(order.Status))
		return nil
	}

	// Covers the sweep path, where the TTL key may still exist.
	s.scheduler.Disarm(ctx, orderID)
	s.releaseWallet(ctx, order.DepositAddress, orderID)

	s.notifier.Enqueue(ctx, entities.NotificationOrderExpired, s.payloadFor(order))
	s.events.Publish(orderID, entities.OrderExpired)

	s.logger.Info("Order expired", "order_id", orderID, "expires_at", order.ExpiresAt)
	return nil
}

func (s *OrderService) payloadFor(order *entities.Order) entities.NotificationPayload {
	return entities.NotificationPayload{
		OrderID:        order.ID,
		Currency:       order.Currency,
		TokenStandard:  order.TokenStandard,
		CryptoAmount:   order.CryptoAmount,
		UAHAmount:      order.UAHAmount,
		DepositAddress: order.DepositAddress,
	}
}

// releaseWallet reclaims the deposit address, logging instead of failing:
// a stuck wallet is recoverable by hand, a failed lifecycle transition is
// user-visible.
func (s *OrderService) releaseWallet(ctx context.Context, address, orderID string) {
	if err := s.pool.Release(ctx, address); err != nil {
		s.logger.Error("Failed to release wallet", "address", address, "order_id", orderID, "error", err)
	}
}

func (s *OrderService) transitionConflict(ctx context.Context, orderID string) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ports.ErrOrderNotFound
	}
	return fmt.Errorf("%w: order %s is %s", ports.ErrInvalidTransition, orderID, order.Status)
}

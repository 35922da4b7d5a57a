package ports

import (
	"context"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

// WalletPool defines the allocation operations over the deposit-wallet pool.
type WalletPool interface {
	FindOldestAvailable(ctx context.Context, currency string, tokenStandard *string) (*entities.Wallet, error)
	MarkAsOccupied(ctx context.Context, address, orderID string) (*entities.Wallet, error)
	MarkAsAvailable(ctx context.Context, address string) (*entities.Wallet, error)
	FindLeastUsedOccupied(ctx context.Context, currency string, tokenStandard *string) (*entities.Wallet, error)
}

// ExpirationScheduler arms and disarms the distributed payment deadline for
// pending orders. Arm failures are hard failures; Disarm is idempotent.
type ExpirationScheduler interface {
	Arm(ctx context.Context, orderID string) error
	Disarm(ctx context.Context, orderID string)
}

// Notifier accepts order-event notifications. Enqueue never returns an error
// to the caller: on queue trouble delivery falls back to a best-effort
// direct send.
type Notifier interface {
	Enqueue(ctx context.Context, typ entities.NotificationType, payload entities.NotificationPayload)
}

// OrderService is the exposed surface of the settlement coordinator.
type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*entities.Order, error)
	GetOrder(ctx context.Context, orderID string) (*entities.Order, error)
	MarkPaid(ctx context.Context, orderID string, operatorID int64) error
	CompleteOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
	ExpireOrder(ctx context.Context, orderID string) error
}

// CreateOrderRequest carries the upstream-computed amounts; rate and pricing
// are not this subsystem's concern, they are attached to notifications as-is.
type CreateOrderRequest struct {
	Currency      string
	TokenStandard *string
	CryptoAmount  string
	UAHAmount     string
	Rate          string
}

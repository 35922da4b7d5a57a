package handlers

import (
	"context"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req ports.CreateOrderRequest) (*entities.Order, error)
	GetOrder(ctx context.Context, orderID string) (*entities.Order, error)
	MarkPaid(ctx context.Context, orderID string, operatorID int64) error
	CompleteOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
}

type WalletService interface {
	ListWallets(ctx context.Context, currency string) ([]entities.Wallet, error)
}

package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderFailed     OrderStatus = "FAILED"
	OrderExpired    OrderStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderFailed, OrderExpired:
		return true
	}
	return false
}

// Order is the settlement-relevant subset of an exchange order. The deposit
// address, once set, references the wallet allocated to this order for its
// PENDING lifetime.
type Order struct {
	ID                 string          `db:"id"                   json:"id"`
	Status             OrderStatus     `db:"status"               json:"status"`
	Currency           string          `db:"currency"             json:"currency"`
	TokenStandard      *string         `db:"token_standard"       json:"token_standard,omitempty"`
	CryptoAmount       decimal.Decimal `db:"crypto_amount"        json:"crypto_amount"`
	UAHAmount          decimal.Decimal `db:"uah_amount"           json:"uah_amount"`
	DepositAddress     string          `db:"deposit_address"      json:"deposit_address"`
	AssignedOperatorID *int64          `db:"assigned_operator_id" json:"assigned_operator_id,omitempty"`
	CreatedAt          time.Time       `db:"created_at"           json:"created_at"`
	ExpiresAt          time.Time       `db:"expires_at"           json:"expires_at"`
	ProcessedAt        *time.Time      `db:"processed_at"         json:"processed_at,omitempty"`
}

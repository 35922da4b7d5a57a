package entities

import (
	"github.com/shopspring/decimal"
)

// NotificationType selects the operator message template.
type NotificationType string

const (
	NotificationOrderCreated   NotificationType = "order_created"
	NotificationOrderCancelled NotificationType = "order_cancelled"
	NotificationOrderCompleted NotificationType = "order_completed"
	NotificationOrderExpired   NotificationType = "order_expired"
)

// NotificationPayload carries the order snapshot rendered into operator
// messages. It is serialized into the queue job, so it must stay
// self-contained: the worker never reads the order back from the database.
type NotificationPayload struct {
	OrderID        string          `json:"order_id"`
	Currency       string          `json:"currency"`
	TokenStandard  *string         `json:"token_standard,omitempty"`
	CryptoAmount   decimal.Decimal `json:"crypto_amount"`
	UAHAmount      decimal.Decimal `json:"uah_amount"`
	Rate           decimal.Decimal `json:"rate"`
	DepositAddress string          `json:"deposit_address"`
	WalletReused   bool            `json:"wallet_reused"`
}

// DeliveryResult aggregates per-recipient outcomes for one notification job.
// A job counts as processed even with partial per-recipient failures.
type DeliveryResult struct {
	NotifiedCount  int `json:"notified_count"`
	ErrorCount     int `json:"error_count"`
	TotalOperators int `json:"total_operators"`
}

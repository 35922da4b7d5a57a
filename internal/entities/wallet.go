package entities

import (
	"time"
)

// WalletStatus is the allocation state of a deposit wallet.
type WalletStatus string

const (
	WalletAvailable WalletStatus = "AVAILABLE"
	WalletAllocated WalletStatus = "ALLOCATED"
	WalletDisabled  WalletStatus = "DISABLED"
)

// Wallet represents a deposit address tracked in our system. Wallets are
// provisioned out-of-band (see cmd/walletgen), handed out to pending orders
// by the pool and reclaimed when the order leaves PENDING. Wallets are never
// deleted, only disabled.
type Wallet struct {
	ID            int          `db:"id"             json:"id"`
	Address       string       `db:"address"        json:"address"`
	Currency      string       `db:"currency"       json:"currency"`
	TokenStandard *string      `db:"token_standard" json:"token_standard,omitempty"`
	Status        WalletStatus `db:"status"         json:"status"`
	TotalOrders   int64        `db:"total_orders"   json:"total_orders"`
	LastUsedAt    *time.Time   `db:"last_used_at"   json:"last_used_at,omitempty"`
	CreatedAt     time.Time    `db:"created_at"     json:"created_at"`
}

// Reused reports whether the wallet has served orders before. Creation
// notifications render differently for a freshly provisioned address.
func (w *Wallet) Reused() bool {
	return w.TotalOrders > 0
}

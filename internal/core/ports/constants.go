package ports

import (
	"errors"
	"time"
)

const (
	// ExpireKeyPrefix namespaces the TTL keys so unrelated uses of the same
	// Redis instance never collide with order deadlines.
	ExpireKeyPrefix = "order:expire:"

	// ReuseCandidateWindow bounds the least-used selection to the top-N
	// wallets by total_orders instead of scanning the whole table.
	ReuseCandidateWindow = 10

	// ListenerReconnectDelay is the pause before resubscribing after the
	// keyspace-notification stream drops.
	ListenerReconnectDelay = 5 * time.Second
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrNoWalletAvailable = errors.New("no deposit wallet available")
)

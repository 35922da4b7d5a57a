package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
	"github.com/swapset/crypto-exchange/settlement/pkg/database"
)

const orderColumns = "id, status, currency, token_standard, crypto_amount, uah_amount, deposit_address, assigned_operator_id, created_at, expires_at, processed_at"

type OrdersRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

// FindByID retrieves an order. Missing order is (nil, nil).
func (r *OrdersRepository) FindByID(ctx context.Context, orderID string) (*entities.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)

	rows, err := r.db(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", orderID, err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	return &order, nil
}

// InsertOrder persists a freshly created PENDING order.
func (r *OrdersRepository) InsertOrder(ctx context.Context, order *entities.Order) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO orders (id, status, currency, token_standard, crypto_amount, uah_amount, deposit_address, created_at, expires_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.Status, order.Currency, order.TokenStandard,
		order.CryptoAmount, order.UAHAmount, order.DepositAddress,
		order.CreatedAt, order.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateStatusFrom transitions the order from one status to another, appending
// an audit entry in the same transaction. Returns false without error when the
// order is no longer in the expected status, which is how concurrent
// expiration and manual cancellation resolve to a single winner.
func (r *OrdersRepository) UpdateStatusFrom(ctx context.Context, orderID string, from, to entities.OrderStatus, actor string) (bool, error) {
	var applied bool
	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		cmd, err := r.db(ctx).Exec(ctx,
			`UPDATE orders SET status = $1, processed_at = NOW() WHERE id = $2 AND status = $3`,
			to, orderID, from)
		if err != nil {
			return fmt.Errorf("failed to update order %s status: %w", orderID, err)
		}

		if cmd.RowsAffected() == 0 {
			return nil
		}

		_, err = r.db(ctx).Exec(ctx,
			`INSERT INTO order_status_log (order_id, old_status, new_status, actor, changed_at) VALUES ($1, $2, $3, $4, $5)`,
			orderID, from, to, actor, time.Now())
		if err != nil {
			return fmt.Errorf("failed to append order status log: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// AssignToOperator records which operator took the order.
func (r *OrdersRepository) AssignToOperator(ctx context.Context, orderID string, operatorID int64) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET assigned_operator_id = $1 WHERE id = $2`,
		operatorID, orderID)
	if err != nil {
		return fmt.Errorf("failed to assign order %s to operator %d: %w", orderID, operatorID, err)
	}
	return nil
}

// FindExpiredPending returns PENDING orders whose payment deadline has
// already passed. The reconciliation sweep drives the same expiration path
// for these as the event listener would have.
func (r *OrdersRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]entities.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE status = $1 AND expires_at < $2 ORDER BY expires_at`, orderColumns)

	rows, err := r.db(ctx).Query(ctx, query, entities.OrderPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired pending orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect expired order rows", "error", err)
		return nil, fmt.Errorf("failed to collect expired order rows: %w", err)
	}

	return orders, nil
}

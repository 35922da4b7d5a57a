package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
	"github.com/swapset/crypto-exchange/settlement/pkg/database"
)

const walletColumns = "id, address, currency, token_standard, status, total_orders, last_used_at, created_at"

// WalletsRepository handles deposit wallet state in Postgres. Status
// transitions are single-row conditional updates: the UPDATE itself is the
// arbiter under concurrent allocation, zero affected rows means the caller
// lost the race and must re-select.
type WalletsRepository struct {
	logger     *slog.Logger
	db         tx.DBGetter
	transactor *tx.Transactor
	builder    sq.StatementBuilderType
}

// NewWalletsRepository creates a new wallet repository.
func NewWalletsRepository(logger *slog.Logger, pg *database.Postgres) *WalletsRepository {
	return &WalletsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// FindWalletByAddress retrieves a wallet by its address.
func (r *WalletsRepository) FindWalletByAddress(ctx context.Context, address string) (*entities.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE address = $1`, walletColumns)

	rows, err := r.db(ctx).Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet by address: %w", err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect wallet row: %w", err)
	}

	return &wallet, nil
}

// SelectOldestAvailable returns the AVAILABLE wallet with the smallest
// last_used_at for the given currency (and token standard, when set).
// No match is (nil, nil), not an error.
func (r *WalletsRepository) SelectOldestAvailable(ctx context.Context, currency string, tokenStandard *string) (*entities.Wallet, error) {
	q := r.builder.
		Select(walletColumns).
		From("wallets").
		Where(sq.Eq{"currency": currency, "status": entities.WalletAvailable}).
		OrderBy("last_used_at ASC NULLS FIRST").
		Limit(1)
	if tokenStandard != nil {
		q = q.Where(sq.Eq{"token_standard": *tokenStandard})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build oldest-available query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest available wallet: %w", err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect wallet row: %w", err)
	}

	return &wallet, nil
}

// UpdateAvailableToAllocated flips AVAILABLE -> ALLOCATED for the address and
// stamps last_used_at. Returns (nil, nil) when the wallet does not exist or
// the transition no longer applies, e.g. another caller allocated it first.
func (r *WalletsRepository) UpdateAvailableToAllocated(ctx context.Context, address string) (*entities.Wallet, error) {
	query := fmt.Sprintf(`UPDATE wallets
              SET status = $1, last_used_at = NOW()
              WHERE address = $2 AND status = $3
              RETURNING %s`, walletColumns)

	rows, err := r.db(ctx).Query(ctx, query, entities.WalletAllocated, address, entities.WalletAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate wallet %s: %w", address, err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect allocated wallet row: %w", err)
	}

	return &wallet, nil
}

// UpdateAllocatedToAvailable flips ALLOCATED -> AVAILABLE for the address and
// stamps last_used_at. Returns (nil, nil) when the transition does not apply.
func (r *WalletsRepository) UpdateAllocatedToAvailable(ctx context.Context, address string) (*entities.Wallet, error) {
	query := fmt.Sprintf(`UPDATE wallets
              SET status = $1, last_used_at = NOW()
              WHERE address = $2 AND status = $3
              RETURNING %s`, walletColumns)

	rows, err := r.db(ctx).Query(ctx, query, entities.WalletAvailable, address, entities.WalletAllocated)
	if err != nil {
		return nil, fmt.Errorf("failed to release wallet %s: %w", address, err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect released wallet row: %w", err)
	}

	return &wallet, nil
}

// SelectReuseCandidates returns up to limit non-disabled wallets for the
// currency ordered by total_orders ascending. The bounded window keeps the
// least-used selection from scanning the whole table.
func (r *WalletsRepository) SelectReuseCandidates(ctx context.Context, currency string, tokenStandard *string, limit uint64) ([]entities.Wallet, error) {
	q := r.builder.
		Select(walletColumns).
		From("wallets").
		Where(sq.Eq{"currency": currency}).
		Where(sq.NotEq{"status": entities.WalletDisabled}).
		OrderBy("total_orders ASC, id ASC").
		Limit(limit)
	if tokenStandard != nil {
		q = q.Where(sq.Eq{"token_standard": *tokenStandard})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reuse-candidates query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reuse candidates: %w", err)
	}

	wallets, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Wallet])
	if err != nil {
		r.logger.Error("failed to collect reuse candidate rows", "error", err)
		return nil, fmt.Errorf("failed to collect reuse candidate rows: %w", err)
	}

	return wallets, nil
}

// IncrementUsage bumps total_orders, stamps last_used_at and, only when the
// wallet is still AVAILABLE, flips it to ALLOCATED. One statement, so the
// counter and the status flip cannot diverge.
func (r *WalletsRepository) IncrementUsage(ctx context.Context, walletID int) (*entities.Wallet, error) {
	query := fmt.Sprintf(`UPDATE wallets
              SET total_orders = total_orders + 1,
                  last_used_at = NOW(),
                  status = CASE WHEN status = $1 THEN $2 ELSE status END
              WHERE id = $3 AND status != $4
              RETURNING %s`, walletColumns)

	rows, err := r.db(ctx).Query(ctx, query,
		entities.WalletAvailable, entities.WalletAllocated, walletID, entities.WalletDisabled)
	if err != nil {
		return nil, fmt.Errorf("failed to increment wallet %d usage: %w", walletID, err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect reused wallet row: %w", err)
	}

	return &wallet, nil
}

// InsertWallet adds a provisioned deposit address to the pool.
func (r *WalletsRepository) InsertWallet(ctx context.Context, address, currency string, tokenStandard *string) (int, error) {
	var id int
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO wallets (address, currency, token_standard, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		address, currency, tokenStandard, entities.WalletAvailable).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert wallet: %w", err)
	}

	r.logger.Info("Wallet added to pool", "address", address, "currency", currency)
	return id, nil
}

// ListWallets retrieves every wallet for a currency, newest first.
func (r *WalletsRepository) ListWallets(ctx context.Context, currency string) ([]entities.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE currency = $1 ORDER BY created_at DESC`, walletColumns)

	rows, err := r.db(ctx).Query(ctx, query, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}

	wallets, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Wallet])
	if err != nil {
		r.logger.Error("failed to collect wallet rows", "error", err)
		return nil, fmt.Errorf("failed to collect wallet rows: %w", err)
	}

	return wallets, nil
}

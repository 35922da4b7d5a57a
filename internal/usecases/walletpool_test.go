package usecases

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"
	"golang.org/x/exp/slices"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

// fakeWalletsRepo is an in-memory wallet store mirroring the conditional
// update semantics of the real repository.
type fakeWalletsRepo struct {
	wallets []entities.Wallet

	selectErr error
}

func (f *fakeWalletsRepo) FindWalletByAddress(_ context.Context, address string) (*entities.Wallet, error) {
	for i := range f.wallets {
		if f.wallets[i].Address == address {
			w := f.wallets[i]
			return &w, nil
		}
	}
	return nil, nil
}

func (f *fakeWalletsRepo) SelectOldestAvailable(_ context.Context, currency string, tokenStandard *string) (*entities.Wallet, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}

	var best *entities.Wallet
	for i := range f.wallets {
		w := &f.wallets[i]
		if w.Currency != currency || w.Status != entities.WalletAvailable {
			continue
		}
		if tokenStandard != nil && (w.TokenStandard == nil || *w.TokenStandard != *tokenStandard) {
			continue
		}
		if best == nil || olderThan(w, best) {
			best = w
		}
	}
	if best == nil {
		return nil, nil
	}
	w := *best
	return &w, nil
}

func olderThan(a, b *entities.Wallet) bool {
	if a.LastUsedAt == nil {
		return true
	}
	if b.LastUsedAt == nil {
		return false
	}
	return a.LastUsedAt.Before(*b.LastUsedAt)
}

func (f *fakeWalletsRepo) UpdateAvailableToAllocated(_ context.Context, address string) (*entities.Wallet, error) {
	for i := range f.wallets {
		w := &f.wallets[i]
		if w.Address == address && w.Status == entities.WalletAvailable {
			w.Status = entities.WalletAllocated
			out := *w
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeWalletsRepo) UpdateAllocatedToAvailable(_ context.Context, address string) (*entities.Wallet, error) {
	for i := range f.wallets {
		w := &f.wallets[i]
		if w.Address == address && w.Status == entities.WalletAllocated {
			w.Status = entities.WalletAvailable
			out := *w
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeWalletsRepo) SelectReuseCandidates(_ context.Context, currency string, tokenStandard *string, limit uint64) ([]entities.Wallet, error) {
	var out []entities.Wallet
	for _, w := range f.wallets {
		if w.Currency != currency || w.Status == entities.WalletDisabled {
			continue
		}
		if tokenStandard != nil && (w.TokenStandard == nil || *w.TokenStandard != *tokenStandard) {
			continue
		}
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b entities.Wallet) bool {
		if a.TotalOrders != b.TotalOrders {
			return a.TotalOrders < b.TotalOrders
		}
		return a.ID < b.ID
	})
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeWalletsRepo) IncrementUsage(_ context.Context, walletID int) (*entities.Wallet, error) {
	for i := range f.wallets {
		w := &f.wallets[i]
		if w.ID != walletID || w.Status == entities.WalletDisabled {
			continue
		}
		w.TotalOrders++
		if w.Status == entities.WalletAvailable {
			w.Status = entities.WalletAllocated
		}
		out := *w
		return &out, nil
	}
	return nil, nil
}

func (f *fakeWalletsRepo) ListWallets(_ context.Context, currency string) ([]entities.Wallet, error) {
	var out []entities.Wallet
	for _, w := range f.wallets {
		if w.Currency == currency {
			out = append(out, w)
		}
	}
	return out, nil
}

func newPool(repo *fakeWalletsRepo) *WalletPoolService {
	return NewWalletPoolService(slog.Default(), repo)
}

func ts(t *testing.T, day string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)
	return &parsed
}

func TestAllocatePrefersOldestAvailable(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xAAA", Currency: "USDT", Status: entities.WalletAvailable, LastUsedAt: ts(t, "2026-01-02")},
		{ID: 2, Address: "0xBBB", Currency: "USDT", Status: entities.WalletAvailable, LastUsedAt: ts(t, "2026-01-01")},
		{ID: 3, Address: "0xCCC", Currency: "BTC", Status: entities.WalletAvailable},
	}}

	wallet, err := newPool(repo).Allocate(context.Background(), "USDT", nil, "order-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	require.Equal(t, "0xBBB", wallet.Address)
	require.Equal(t, entities.WalletAllocated, wallet.Status)
}

func TestAllocateFiltersByTokenStandard(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xERC", Currency: "USDT", TokenStandard: pointy.String("ERC20"), Status: entities.WalletAvailable},
		{ID: 2, Address: "TTRC", Currency: "USDT", TokenStandard: pointy.String("TRC20"), Status: entities.WalletAvailable},
	}}

	wallet, err := newPool(repo).Allocate(context.Background(), "USDT", pointy.String("TRC20"), "order-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	require.Equal(t, "TTRC", wallet.Address)
}

func TestAllocateFallsBackToReuse(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xAAA", Currency: "USDT", Status: entities.WalletAllocated, TotalOrders: 7},
		{ID: 2, Address: "0xBBB", Currency: "USDT", Status: entities.WalletAllocated, TotalOrders: 3},
	}}

	wallet, err := newPool(repo).Allocate(context.Background(), "USDT", nil, "order-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	require.Equal(t, "0xBBB", wallet.Address, "reuse must prefer the least-used wallet")
	require.Equal(t, int64(4), wallet.TotalOrders)
}

func TestAllocateNoWallets(t *testing.T) {
	repo := &fakeWalletsRepo{}

	wallet, err := newPool(repo).Allocate(context.Background(), "USDT", nil, "order-1")
	require.NoError(t, err)
	require.Nil(t, wallet, "empty pool is a non-error outcome")
}

func TestMarkAsOccupiedLosesRace(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xAAA", Currency: "USDT", Status: entities.WalletAllocated},
	}}

	wallet, err := newPool(repo).MarkAsOccupied(context.Background(), "0xAAA", "order-1")
	require.NoError(t, err)
	require.Nil(t, wallet, "allocating an already-allocated wallet must not report success")
}

func TestReleaseMakesWalletSelectableAgain(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xAAA", Currency: "USDT", Status: entities.WalletAllocated},
	}}
	pool := newPool(repo)

	require.NoError(t, pool.Release(context.Background(), "0xAAA"))

	wallet, err := pool.FindOldestAvailable(context.Background(), "USDT", nil)
	require.NoError(t, err)
	require.NotNil(t, wallet)
	require.Equal(t, "0xAAA", wallet.Address)
}

func TestFindLeastUsedOccupiedSkipsDisabled(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xDIS", Currency: "USDT", Status: entities.WalletDisabled, TotalOrders: 0},
		{ID: 2, Address: "0xBBB", Currency: "USDT", Status: entities.WalletAllocated, TotalOrders: 5},
	}}

	for i := 0; i < 20; i++ {
		wallet, err := newPool(repo).FindLeastUsedOccupied(context.Background(), "USDT", nil)
		require.NoError(t, err)
		require.NotNil(t, wallet)
		require.NotEqual(t, "0xDIS", wallet.Address, "disabled wallets must never be selected")
	}
}

func TestFindLeastUsedOccupiedTieBreaksWithinMinimalGroup(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xAAA", Currency: "USDT", Status: entities.WalletAllocated, TotalOrders: 2},
		{ID: 2, Address: "0xBBB", Currency: "USDT", Status: entities.WalletAllocated, TotalOrders: 2},
		{ID: 3, Address: "0xCCC", Currency: "USDT", Status: entities.WalletAllocated, TotalOrders: 9},
	}}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		fresh := &fakeWalletsRepo{wallets: slices.Clone(repo.wallets)}
		wallet, err := newPool(fresh).FindLeastUsedOccupied(context.Background(), "USDT", nil)
		require.NoError(t, err)
		require.NotNil(t, wallet)
		require.NotEqual(t, "0xCCC", wallet.Address, "selection must stay within the minimal total_orders group")
		seen[wallet.Address] = true
	}

	require.True(t, seen["0xAAA"] && seen["0xBBB"], "tie-break should spread over the minimal group, got %v", seen)
}

func TestFindLeastUsedOccupiedFlipsAvailableOnly(t *testing.T) {
	repo := &fakeWalletsRepo{wallets: []entities.Wallet{
		{ID: 1, Address: "0xAAA", Currency: "USDT", Status: entities.WalletAvailable, TotalOrders: 1},
	}}

	wallet, err := newPool(repo).FindLeastUsedOccupied(context.Background(), "USDT", nil)
	require.NoError(t, err)
	require.NotNil(t, wallet)
	require.Equal(t, entities.WalletAllocated, wallet.Status)
	require.Equal(t, int64(2), wallet.TotalOrders)
}

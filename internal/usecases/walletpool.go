package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

// WalletsRepository is the storage surface the pool needs. Conditional
// updates return (nil, nil) when the transition no longer applies; the pool
// treats that as "lost the race", never as success.
type WalletsRepository interface {
	FindWalletByAddress(ctx context.Context, address string) (*entities.Wallet, error)
	SelectOldestAvailable(ctx context.Context, currency string, tokenStandard *string) (*entities.Wallet, error)
	UpdateAvailableToAllocated(ctx context.Context, address string) (*entities.Wallet, error)
	UpdateAllocatedToAvailable(ctx context.Context, address string) (*entities.Wallet, error)
	SelectReuseCandidates(ctx context.Context, currency string, tokenStandard *string, limit uint64) ([]entities.Wallet, error)
	IncrementUsage(ctx context.Context, walletID int) (*entities.Wallet, error)
	ListWallets(ctx context.Context, currency string) ([]entities.Wallet, error)
}

// allocateAttempts bounds re-selection after losing an allocation race.
const allocateAttempts = 3

var _ ports.WalletPool = (*WalletPoolService)(nil)

// WalletPoolService hands out and reclaims deposit addresses. FIFO selection
// picks the address idle the longest; the reuse strategy shares the
// least-used address when the pool has no idle capacity. Shared addresses
// are intentional on the reuse path, downstream settlement disambiguates by
// amount.
type WalletPoolService struct {
	logger *slog.Logger
	repo   WalletsRepository
}

func NewWalletPoolService(logger *slog.Logger, repo WalletsRepository) *WalletPoolService {
	return &WalletPoolService{logger: logger, repo: repo}
}

// FindOldestAvailable returns the AVAILABLE wallet idle the longest for the
// currency, or nil when the pool has no idle capacity.
func (s *WalletPoolService) FindOldestAvailable(ctx context.Context, currency string, tokenStandard *string) (*entities.Wallet, error) {
	return s.repo.SelectOldestAvailable(ctx, currency, tokenStandard)
}

// MarkAsOccupied transitions AVAILABLE -> ALLOCATED. Nil means the address is
// gone or was allocated by someone else first; the caller must re-select.
func (s *WalletPoolService) MarkAsOccupied(ctx context.Context, address, orderID string) (*entities.Wallet, error) {
	wallet, err := s.repo.UpdateAvailableToAllocated(ctx, address)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		s.logger.Warn("Wallet allocation lost the race", "address", address, "order_id", orderID)
		return nil, nil
	}

	s.logger.Info("Wallet allocated", "address", address, "order_id", orderID)
	return wallet, nil
}

// MarkAsAvailable transitions ALLOCATED -> AVAILABLE once the deposit can be
// safely reused.
func (s *WalletPoolService) MarkAsAvailable(ctx context.Context, address string) (*entities.Wallet, error) {
	wallet, err := s.repo.UpdateAllocatedToAvailable(ctx, address)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		s.logger.Warn("Wallet release skipped, not allocated", "address", address)
		return nil, nil
	}

	s.logger.Info("Wallet released", "address", address)
	return wallet, nil
}

// FindLeastUsedOccupied selects among non-disabled wallets the one with the
// fewest served orders, breaking ties uniformly at random, and bumps its
// usage counter. The read and the update are separate round trips; the
// candidate list can go stale in between, so a failed update just drops the
// candidate and tries the next one.
func (s *WalletPoolService) FindLeastUsedOccupied(ctx context.Context, currency string, tokenStandard *string) (*entities.Wallet, error) {
	candidates, err := s.repo.SelectReuseCandidates(ctx, currency, tokenStandard, ports.ReuseCandidateWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to select reuse candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	for len(candidates) > 0 {
		group := minUsageGroup(candidates)
		pick := group[rand.Intn(len(group))]

		wallet, err := s.repo.IncrementUsage(ctx, pick.ID)
		if err != nil {
			return nil, err
		}
		if wallet != nil {
			s.logger.Info("Wallet reused",
				"address", wallet.Address,
				"total_orders", wallet.TotalOrders)
			return wallet, nil
		}

		// Wallet disappeared or was disabled since the read.
		candidates = dropCandidate(candidates, pick.ID)
	}

	return nil, nil
}

// Allocate picks a deposit address for a new order: FIFO over idle wallets
// first, falling back to the least-used shared wallet when the pool has no
// idle capacity. Nil without error means the currency has no usable wallets
// at all.
func (s *WalletPoolService) Allocate(ctx context.Context, currency string, tokenStandard *string, orderID string) (*entities.Wallet, error) {
	// Selection and allocation are separate round trips; losing the
	// conditional update to a concurrent caller just means re-selecting.
	for attempt := 0; attempt < allocateAttempts; attempt++ {
		candidate, err := s.FindOldestAvailable(ctx, currency, tokenStandard)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			break
		}

		wallet, err := s.MarkAsOccupied(ctx, candidate.Address, orderID)
		if err != nil {
			return nil, err
		}
		if wallet != nil {
			return wallet, nil
		}
	}

	return s.FindLeastUsedOccupied(ctx, currency, tokenStandard)
}

// Release reclaims the deposit address once the order left PENDING.
func (s *WalletPoolService) Release(ctx context.Context, address string) error {
	_, err := s.MarkAsAvailable(ctx, address)
	return err
}

// ListWallets retrieves every wallet for a currency.
func (s *WalletPoolService) ListWallets(ctx context.Context, currency string) ([]entities.Wallet, error) {
	return s.repo.ListWallets(ctx, currency)
}

// minUsageGroup returns the leading candidates sharing the minimal
// total_orders. Candidates arrive sorted ascending.
func minUsageGroup(candidates []entities.Wallet) []entities.Wallet {
	minOrders := candidates[0].TotalOrders
	end := 1
	for end < len(candidates) && candidates[end].TotalOrders == minOrders {
		end++
	}
	return candidates[:end]
}

func dropCandidate(candidates []entities.Wallet, id int) []entities.Wallet {
	out := candidates[:0]
	for _, c := range candidates {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// Command walletgen provisions deposit wallets for the settlement pool.
//
// Two modes:
//
//	walletgen -currency USDT -standard BEP20 -count 5     derive fresh EVM addresses from the master seed
//	walletgen -currency SOL -import addresses.txt          import and validate externally generated addresses
//
// Derived private keys never touch the database, the pool stores addresses
// only. Key custody is the signer infrastructure's concern.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"go.openly.dev/pointy"

	cfg "github.com/swapset/crypto-exchange/settlement/config"
	"github.com/swapset/crypto-exchange/settlement/internal/usecases/repository"
	"github.com/swapset/crypto-exchange/settlement/pkg/database"
)

func main() {
	var (
		currency   = flag.String("currency", "", "wallet currency, e.g. USDT")
		standard   = flag.String("standard", "", "token standard for multi-standard assets, e.g. TRC20")
		count      = flag.Int("count", 1, "number of addresses to derive")
		importFile = flag.String("import", "", "file with one externally generated address per line")
	)
	flag.Parse()

	if *currency == "" {
		log.Fatal("missing required flag: -currency")
	}

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	pg, err := database.New(config.DB.DatabaseURL,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer pg.Close()

	wallets := repository.NewWalletsRepository(logger, pg)

	var tokenStandard *string
	if *standard != "" {
		tokenStandard = pointy.String(*standard)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var addresses []string
	if *importFile != "" {
		addresses, err = readAddresses(*importFile)
	} else {
		addresses, err = deriveAddresses(os.Getenv("WALLET_SEED"), *count)
	}
	if err != nil {
		log.Fatal(err)
	}

	for _, address := range addresses {
		if err = validateAddress(*currency, address); err != nil {
			log.Fatal(err)
		}

		id, err := wallets.InsertWallet(ctx, address, *currency, tokenStandard)
		if err != nil {
			log.Fatal(err)
		}
		logger.Info("Wallet provisioned", "id", id, "address", address, "currency", *currency)
	}
}

// deriveAddresses derives EVM deposit addresses from the BIP39 master seed.
func deriveAddresses(seed string, count int) ([]string, error) {
	if seed == "" {
		return nil, fmt.Errorf("WALLET_SEED is not set")
	}

	seedBytes := bip39.NewSeed(seed, "")
	masterKey, err := bip32.NewMasterKey(seedBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	addresses := make([]string, 0, count)
	base := uint32(time.Now().UnixNano() % 0x80000000)

	for i := 0; i < count; i++ {
		childKey, err := masterKey.NewChildKey(base + uint32(i))
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}

		privKey, err := crypto.ToECDSA(childKey.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to convert child key: %w", err)
		}

		addresses = append(addresses, crypto.PubkeyToAddress(privKey.PublicKey).Hex())
	}

	return addresses, nil
}

func readAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	var addresses []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	return addresses, nil
}

// validateAddress rejects malformed addresses before they reach the pool.
func validateAddress(currency, address string) error {
	switch strings.ToUpper(currency) {
	case "SOL":
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid solana address %q: %w", address, err)
		}
	default:
		// Everything else we provision is EVM-shaped.
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address %q", address)
		}
	}
	return nil
}

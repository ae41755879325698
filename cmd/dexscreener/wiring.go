package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/henrisama/dexscreener/internal/blacklist"
	"github.com/henrisama/dexscreener/internal/config"
	"github.com/henrisama/dexscreener/internal/engine"
	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/storage"
	"github.com/henrisama/dexscreener/internal/storage/postgres"
	"github.com/henrisama/dexscreener/internal/trader"
)

// positionStore is the full ledger surface used by the commands.
type positionStore interface {
	engine.Ledger
	ListAll(ctx context.Context) ([]models.Position, error)
}

func openLedger(ctx context.Context, cfg *config.Config) (positionStore, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("Position ledger: postgres")
		return postgres.NewLedger(pool, cfg.Storage.MaxObservations), pool.Close, nil
	default:
		store, err := storage.New(cfg.Storage.MaxObservations, cfg.Storage.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		logger.Info("Position ledger: sqlite at %s", cfg.Storage.DBPath)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}, nil
	}
}

func newPersister(cfg *config.Config) (blacklist.Persister, func()) {
	if cfg.Blacklist.Backend == "redis" {
		p := blacklist.NewRedisPersister(cfg.Blacklist.RedisAddr, cfg.Blacklist.RedisPassword, cfg.Blacklist.RedisDB, cfg.Blacklist.RedisPrefix)
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("Failed to close redis: %v", err)
			}
		}
	}
	return blacklist.NewFilePersister(cfg.Blacklist.FilePath), func() {}
}

// openBlacklist loads the persisted blacklist and seeds configured entries.
// The returned close func flushes the store before releasing the backend.
func openBlacklist(ctx context.Context, cfg *config.Config) (*blacklist.Store, func(), error) {
	persister, closePersister := newPersister(cfg)
	if rp, ok := persister.(*blacklist.RedisPersister); ok {
		if err := rp.Ping(ctx); err != nil {
			closePersister()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	bl := blacklist.New(persister, cfg.Blacklist.ExemptIssuers)
	if err := bl.Load(ctx); err != nil {
		closePersister()
		return nil, nil, err
	}
	bl.Seed(cfg.Blacklist.Tokens, cfg.Blacklist.Issuers)
	tokens, issuers := bl.Len()
	logger.Info("Blacklist loaded: %d tokens, %d issuers", tokens, issuers)

	return bl, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bl.Flush(flushCtx); err != nil {
			logger.Error("Failed to flush blacklist: %v", err)
		}
		closePersister()
	}, nil
}

func newExecutor(cfg *config.Config, rpcClient *rpc.Client) (trader.Executor, error) {
	if !cfg.Trading.Enabled || cfg.Trading.Mode != "live" {
		logger.Info("Trading mode: paper (%v SOL per buy)", cfg.Trading.AmountSOL)
		return trader.NewPaperExecutor(cfg.Trading.AmountSOL), nil
	}
	live, err := trader.NewLiveExecutor(trader.LiveConfig{
		AmountSOL:      cfg.Trading.AmountSOL,
		SlippageBps:    cfg.Trading.SlippageBps,
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
	}, trader.NewJupiterClient(cfg.Trading.JupiterURL, cfg.Engine.CallTimeout), rpcClient, cfg.Trading.WalletSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize live executor: %w", err)
	}
	logger.Info("Trading mode: live, wallet %s", live.Address())
	return live, nil
}

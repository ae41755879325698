package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/henrisama/dexscreener/internal/config"
	"github.com/henrisama/dexscreener/internal/dexscreener"
	"github.com/henrisama/dexscreener/internal/engine"
	"github.com/henrisama/dexscreener/internal/filter"
	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/observability"
	"github.com/henrisama/dexscreener/internal/rugcheck"
	"github.com/henrisama/dexscreener/internal/scheduler"
	"github.com/henrisama/dexscreener/internal/server"
	"github.com/henrisama/dexscreener/internal/solana"
	"github.com/henrisama/dexscreener/internal/telegram"
)

func main() {
	cmd := &cli.Command{
		Name:  "dexscreener",
		Usage: "screen new Dexscreener tokens and trade pumps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/config.yaml",
				Usage:   "path to configuration file",
			},
			&cli.StringFlag{
				Name:  "env",
				Value: ".env",
				Usage: "optional dotenv file with secrets",
			},
		},
		Action: runService,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the screening and trading loop",
				Action: runService,
			},
			{
				Name:  "positions",
				Usage: "list ledger positions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "include closed positions"},
				},
				Action: listPositions,
			},
			{
				Name:   "blacklist",
				Usage:  "show blacklisted tokens and issuers",
				Action: showBlacklist,
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "ban tokens or issuers by address",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "token", Usage: "token address to ban (repeatable)"},
							&cli.StringSliceFlag{Name: "issuer", Usage: "issuer address to ban (repeatable)"},
						},
						Action: addToBlacklist,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path, cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", path)
	return cfg, nil
}

func runService(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	bl, closeBlacklist, err := openBlacklist(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlacklist()

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	feed := dexscreener.NewClient(dexscreener.Options{
		BaseURL:        cfg.Feed.BaseURL,
		ChainID:        cfg.Feed.ChainID,
		BatchSize:      cfg.Feed.BatchSize,
		Timeout:        cfg.Feed.Timeout,
		MaxRetries:     cfg.Feed.MaxRetries,
		RetryDelayBase: cfg.Feed.RetryDelayBase,
	})

	rpcClient := solana.NewRPC(cfg.Solana.RPCURL, cfg.Solana.RPCAPIKey)

	var risk filter.RiskEvaluator
	if cfg.RugCheck.Enabled {
		risk = rugcheck.NewClient(cfg.RugCheck.BaseURL, cfg.RugCheck.APIKey, cfg.RugCheck.Timeout).
			WithRetry(cfg.Feed.MaxRetries, cfg.Feed.RetryDelayBase)
	} else {
		logger.Warn("RugCheck disabled: risk score step is skipped")
	}

	chain := filter.New(filter.Config{
		MinMarketCap:            cfg.Filters.MinMarketCap,
		MinVolume24h:            cfg.Filters.MinVolume24h,
		MaxVolumeMarketCapRatio: cfg.Filters.MaxVolumeMarketCapRatio,
		MaxRiskScore:            cfg.Filters.MaxRiskScore,
		IgnoredRisks:            cfg.Filters.IgnoredRisks,
		MaxTopHoldersPct:        cfg.Filters.MaxTopHoldersPct,
		TopHolders:              cfg.Filters.TopHolders,
		MinPriceChangeForVolume: cfg.Filters.MinPriceChangeForVolume,
		CallTimeout:             cfg.Engine.CallTimeout,
	}, bl, solana.NewIssuerResolver(rpcClient), risk, solana.NewHolderService(rpcClient))

	executor, err := newExecutor(cfg, rpcClient)
	if err != nil {
		return err
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var (
		tradeNotifier engine.Notifier
		cycleNotifier scheduler.Notifier
	)
	if telegramClient != nil {
		tradeNotifier = telegramClient
		cycleNotifier = telegramClient
	}

	eng := engine.New(engine.Config{
		TradingEnabled:    cfg.Trading.Enabled,
		ScreenConcurrency: cfg.Engine.ScreenConcurrency,
		CallTimeout:       cfg.Engine.CallTimeout,
		TradeTimeout:      cfg.Engine.TradeTimeout,
	}, feed, chain, feed, ledger, executor, tradeNotifier)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, finishing current cycle...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, ledger, bl)
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, ledger, bl)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("Status API stopped: %v", err)
			}
		}()
	}

	logger.Info("Starting screening service (interval: %v, chain: %s, trading: %v/%s)",
		cfg.Feed.PollInterval, cfg.Feed.ChainID, cfg.Trading.Enabled, cfg.Trading.Mode)

	loop := scheduler.New(cfg.Feed.PollInterval, func(cycleCtx context.Context) error {
		_, err := eng.Cycle(cycleCtx)
		observability.UpdateBlacklistSize(bl.Len())
		return err
	}, cycleNotifier)
	loop.Run(ctx)

	logger.Info("Service stopped")
	return nil
}

package main

import (
	"context"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/basketfi/fund-backend/internal/adapter/extclient"
	"github.com/basketfi/fund-backend/internal/adapter/httpapi"
	"github.com/basketfi/fund-backend/internal/adapter/repository/postgres"
	"github.com/basketfi/fund-backend/internal/config"
	"github.com/basketfi/fund-backend/internal/consistency"
	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/guard"
	"github.com/basketfi/fund-backend/internal/logging"
	"github.com/basketfi/fund-backend/internal/usecase/burn"
	"github.com/basketfi/fund-backend/internal/usecase/mint"
	"github.com/basketfi/fund-backend/internal/usecase/rebalance"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Setup(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})

	// 1. Database
	db, err := postgres.NewDB(cfg.Database.DSN)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	mintRepo := postgres.NewPendingMintRepository(db)
	rebalanceLog := postgres.NewRebalanceLogRepository(db)

	// 2. External services
	extCfg := extclient.Config{
		LedgerURL:   cfg.Services.LedgerURL,
		OracleURL:   cfg.Services.OracleURL,
		ExchangeURL: cfg.Services.ExchangeURL,
		AuthToken:   cfg.Services.AuthToken,
		Timeout:     cfg.Services.Timeout,
	}
	ledger := extclient.NewLedgerClient(extCfg)
	oracle := extclient.NewOracleClient(extCfg)
	exchange := extclient.NewExchangeClient(extCfg)

	// 3. Fund composition
	shareAsset := toAsset(cfg.Fund.ShareAsset)
	reserveAsset := toAsset(cfg.Fund.ReserveAsset)
	assets := make([]domain.Asset, 0, len(cfg.Fund.Assets))
	for _, a := range cfg.Fund.Assets {
		assets = append(assets, toAsset(a))
	}
	fundAccount := domain.Account(cfg.Fund.FundAccount)
	exchangeAccount := domain.Account(cfg.Fund.ExchangeAccount)

	// 4. Core layers
	valuer := consistency.NewPortfolioValuer(ledger, oracle, fundAccount, reserveAsset, assets)
	snapshots := consistency.NewSnapshotter(ledger, valuer, shareAsset, logging.Component(log, "snapshot"))
	guards := guard.NewAccountGuards()
	coord := guard.NewCoordinator(cfg.Rebalance.GracePeriod)

	// 5. Use cases
	mintSvc := mint.NewService(mint.Config{
		ShareAsset:      shareAsset,
		ReserveAsset:    reserveAsset,
		FundAccount:     fundAccount,
		Fee:             big.NewInt(cfg.Mint.Fee),
		MinMint:         big.NewInt(cfg.Mint.MinAmount),
		MaxMint:         big.NewInt(cfg.Mint.MaxAmount),
		RateLimitWindow: cfg.Mint.RateLimitWindow,
		SnapshotWarnAge: cfg.Mint.SnapshotWarnAge,
		SnapshotFailAge: cfg.Mint.SnapshotFailAge,
		PendingTTL:      cfg.Mint.PendingTTL,
		TerminalTTL:     cfg.Mint.TerminalTTL,
	}, ledger, snapshots, mintRepo, guards, coord, logging.Component(log, "mint"))

	burnSvc := burn.NewService(burn.Config{
		ShareAsset:      shareAsset,
		ReserveAsset:    reserveAsset,
		Assets:          assets,
		FundAccount:     fundAccount,
		Fee:             big.NewInt(cfg.Burn.Fee),
		MinBurn:         big.NewInt(cfg.Burn.MinAmount),
		DustThreshold:   big.NewInt(cfg.Burn.DustThreshold),
		RateLimitWindow: cfg.Burn.RateLimitWindow,
	}, ledger, guards, coord, logging.Component(log, "burn"))

	rebalanceSvc := rebalance.NewService(rebalance.Config{
		ReserveAsset:      reserveAsset,
		Assets:            assets,
		FundAccount:       fundAccount,
		ExchangeAccount:   exchangeAccount,
		TradeIntensityBps: cfg.Rebalance.TradeIntensityBps,
		MaxSlippageBps:    cfg.Rebalance.MaxSlippageBps,
		MinTradeSize:      big.NewInt(cfg.Rebalance.MinTradeSize),
		HistorySize:       cfg.Rebalance.HistorySize,
		Interval:          cfg.Rebalance.Interval,
	}, ledger, oracle, exchange, valuer, coord, rebalanceLog, logging.Component(log, "rebalance"))
	if err := rebalanceSvc.LoadHistory(ctx); err != nil {
		log.Warn("could not restore rebalance history", "error", err)
	}

	// 6. Background loops
	go mintSvc.RunSweeper(ctx, cfg.Mint.SweepInterval)
	go rebalance.NewScheduler(rebalanceSvc, logging.Component(log, "scheduler")).Run(ctx)

	// 7. HTTP API
	server := httpapi.NewServer(httpapi.Config{
		Addr:       cfg.Server.Addr,
		AdminToken: cfg.Server.AdminToken,
	}, mintSvc, burnSvc, rebalanceSvc, coord, logging.Component(log, "http"))

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		errCh <- server.Run()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping")
	case err := <-errCh:
		log.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func toAsset(a config.AssetConfig) domain.Asset {
	return domain.NewAsset(a.Symbol, a.Decimals, a.TransferFee)
}

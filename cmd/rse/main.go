package main

import (
	"context"

	authservice "github.com/EM-ade/realmkin-sub000/internal/application/auth"
	"github.com/EM-ade/realmkin-sub000/internal/application/claimservice"
	"github.com/EM-ade/realmkin-sub000/internal/application/historylog"
	"github.com/EM-ade/realmkin-sub000/internal/application/stakeservice"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/payout"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/rpc"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/balancerepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/claimrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/historyrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/stakerepo"
	"github.com/EM-ade/realmkin-sub000/internal/server"
	"github.com/EM-ade/realmkin-sub000/internal/server/websocket"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logger.NewWithConfig(cfg.Logging)

	dbMgr, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbMgr.ShutDown()

	if err := database.InitSchema(dbMgr.Db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	ledger := database.NewLedger(dbMgr.Db, cfg.Settlement.MaxLedgerAttempts, logger)

	balanceRepo := balancerepo.New(dbMgr.Db, logger)
	stakeRepo := stakerepo.New(dbMgr.Db, logger)
	claimRepo := claimrepo.New(dbMgr.Db, logger)
	historyRepo := historyrepo.New(dbMgr.Db, logger)

	solanaClient := rpc.NewSolanaClient(cfg, logger)
	verifier := rpc.NewChainVerifier(solanaClient, cfg, logger)
	executor := payout.NewExecutor(solanaClient, cfg, logger)

	wsHub := websocket.NewWsHub(logger)
	go wsHub.Run()

	claimSvc := claimservice.NewClaimService(
		ledger, balanceRepo, claimRepo, historyRepo,
		executor, verifier, wsHub, cfg, logger,
	)
	stakeSvc := stakeservice.NewStakeService(
		ledger, balanceRepo, stakeRepo, historyRepo,
		verifier, wsHub, cfg, logger,
	)
	historySvc := historylog.NewHistoryService(
		ledger, historyRepo, claimRepo, balanceRepo,
		verifier, wsHub, cfg, logger,
	)
	authSvc := authservice.NewAuthService(cfg, logger)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go func() {
		if err := historySvc.StartReconciliation(sweepCtx); err != nil && sweepCtx.Err() == nil {
			logger.Error().Err(err).Msg("Reconciliation loop exited")
		}
	}()

	srv := server.New(cfg, claimSvc, stakeSvc, historySvc, authSvc, dbMgr, logger, wsHub)
	srv.Start()
}

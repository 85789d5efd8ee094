package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/identity"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/logging"
	"escrowflow/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Logging)

	var (
		identityRepo identity.Repository
		escrowStore  escrow.Store
		jobStore     job.Store
		disputeStore dispute.Store
		probe        func(context.Context) error
	)

	if cfg.Database.URL != "" {
		pool, err := db.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("bootstrap database pool: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}

		identityRepo = identity.NewRepository(pool)
		escrowStore = escrow.NewPGStore(pool)
		jobStore = job.NewPGStore(pool)
		disputeStore = dispute.NewPGStore(pool)
		probe = db.Probe(pool)
		logger.Info("using postgres stores")
	} else {
		identityRepo = identity.NewMemoryRepository()
		escrowStore = escrow.NewMemoryStore()
		jobStore = job.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var tokenLedger ledger.Ledger
	if cfg.Ledger.Endpoint != "" {
		client := ledger.NewClient(cfg.Ledger.Endpoint)
		client.HTTP = &http.Client{Timeout: cfg.Ledger.Timeout}
		tokenLedger = client
		logger.Info("using remote ledger", "endpoint", cfg.Ledger.Endpoint)
	} else {
		tokenLedger = ledger.NewSim()
		logger.Warn("LEDGER_ENDPOINT not set, using simulated ledger")
	}

	identitySvc := identity.NewService(identityRepo, cfg.Auth.JWTSecret)

	escrowEngine := escrow.NewEngine(escrowStore, tokenLedger, logger, escrow.Config{
		Custodian:         cfg.Platform.Custodian,
		PlatformWallet:    cfg.Platform.PlatformWallet,
		ManagerIdentities: []string{cfg.Platform.ServiceIdentity},
	})
	disputeEngine := dispute.NewEngine(disputeStore, logger, dispute.Config{
		ManagerIdentities: []string{cfg.Platform.ServiceIdentity},
	})
	jobSvc := job.NewService(jobStore, escrowEngine, disputeEngine, identitySvc, logger, job.Config{
		ServiceIdentity:  cfg.Platform.ServiceIdentity,
		OperatorIdentity: cfg.Platform.OperatorIdentity,
	})

	handlers := server.NewAPIHandlers(logger, identitySvc, jobSvc, escrowEngine, disputeEngine)
	router := server.NewRouter(logger, server.RouterDependencies{
		API: handlers,
		Health: &server.HealthHandler{
			Logger:  logger,
			Probe:   probe,
			FeeGaps: escrowEngine,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins(),
	})
	srv := server.New(logger, cfg.HTTP, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("escrowflow api up", "service_identity", cfg.Platform.ServiceIdentity)
	return g.Wait()
}

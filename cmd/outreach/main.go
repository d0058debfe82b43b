package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"outreach-engine/internal/config"
	"outreach-engine/internal/database"
	"outreach-engine/internal/engine"
	"outreach-engine/internal/store"
	"outreach-engine/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Could not create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	eng := engine.New(logger, store.NewGorm(db), engine.Config{
		ProtectionWindow: cfg.ProtectionWindow,
		MaxLevel:         cfg.MaxLevel,
		Thresholds:       cfg.BonusThresholds,
		Deactivated:      cfg.DeactivatedPolicy,
		Redeem:           cfg.RedeemPolicy,
	})

	releaser := worker.NewReleaser(logger, eng, rdb, cfg.ReleaseInterval, cfg.DispatchQueue)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return releaser.Run(ctx)
	})

	logger.Info("outreach engine started")
	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

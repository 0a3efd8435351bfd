package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/punchamoorthee/faktor/internal/app"
	"github.com/punchamoorthee/faktor/internal/config"
	"github.com/punchamoorthee/faktor/internal/keeper"
	"github.com/punchamoorthee/faktor/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	// Payments reach the keeper only through the shared database.
	if err := cfg.RequireDatabase("keeper"); err != nil {
		logg.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logg)
	if err != nil {
		logg.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	redisClient, err := keeper.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logg.Warn("redis unavailable, slot claims disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	k := keeper.New(a.Engine, keeper.NewLocker(redisClient, 0), keeper.Options{
		Identity:  cfg.KeeperIdentity,
		Schedule:  cfg.KeeperSchedule,
		BatchSize: cfg.KeeperBatchSize,
	}, logg)
	if err := k.Start(); err != nil {
		logg.Fatal("failed to schedule keeper", zap.Error(err))
	}

	<-ctx.Done()
	logg.Info("keeper stopping")
	<-k.Stop().Done()
}

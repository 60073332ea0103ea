package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/yokitheyo/cutout/internal/config"
	infradatabase "github.com/yokitheyo/cutout/internal/infrastructure/database"
	"github.com/yokitheyo/cutout/internal/infrastructure/kafka"
	"github.com/yokitheyo/cutout/internal/repository/postgres"
	"github.com/yokitheyo/cutout/internal/retry"
	"github.com/yokitheyo/cutout/internal/usecase"
	"github.com/yokitheyo/cutout/internal/worker"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Cutout History Worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load("")
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Logging.Apply(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid log level")
	}
	if err := config.ValidateWorker(cfg); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid worker config")
	}

	database, err := infradatabase.Connect(ctx, &cfg.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database after all retries")
	}
	defer infradatabase.Close(database)

	// Run migrations
	zlog.Logger.Info().Msg("Running database migrations...")
	if err := infradatabase.RunMigrations(database, cfg.Migrations.Path); err != nil {
		zlog.Logger.Warn().Err(err).Msg("Migrations warning (might be already applied)")
	}

	// Setup Repository and Usecase
	repo := postgres.NewSessionRepository(database, retry.DefaultStrategy)
	historyWorker := worker.NewHistoryWorker(usecase.NewHistoryUsecase(repo))

	// Kafka Consumer
	kafkaConsumer, err := kafka.NewConsumer(&cfg.Kafka, historyWorker.HandleSnapshot)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize Kafka consumer")
	}
	defer kafkaConsumer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kafkaConsumer.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Kafka consumer error")
	}
	zlog.Logger.Info().Msg("Worker shutdown complete")
}

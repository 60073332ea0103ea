package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/yokitheyo/cutout/internal/broadcast"
	"github.com/yokitheyo/cutout/internal/config"
	"github.com/yokitheyo/cutout/internal/domain"
	httpHandler "github.com/yokitheyo/cutout/internal/handler/http"
	"github.com/yokitheyo/cutout/internal/handler/middleware"
	infradatabase "github.com/yokitheyo/cutout/internal/infrastructure/database"
	"github.com/yokitheyo/cutout/internal/infrastructure/kafka"
	"github.com/yokitheyo/cutout/internal/infrastructure/processor"
	"github.com/yokitheyo/cutout/internal/infrastructure/storage"
	"github.com/yokitheyo/cutout/internal/progress"
	"github.com/yokitheyo/cutout/internal/repository/postgres"
	"github.com/yokitheyo/cutout/internal/resources"
	"github.com/yokitheyo/cutout/internal/retry"
	"github.com/yokitheyo/cutout/internal/usecase"
	"github.com/yokitheyo/cutout/internal/validation"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Cutout API Server")

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

	// Setup Storage
	storageService, err := storage.New(&cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	handles := resources.NewManager(storageService, cfg.Storage.HandlesDir)

	// Engine
	remover, err := processor.NewRemover(&cfg.Processing)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize background remover")
	}

	hub := broadcast.NewHub(broadcast.DefaultBuffer)
	opts := []usecase.Option{
		usecase.WithEngineTimeout(cfg.Processing.EngineTimeout()),
		usecase.WithProgressCeiling(cfg.Processing.ProgressCeiling),
		usecase.WithListener(hub),
		usecase.WithListener(transitionLogger()),
	}

	// Kafka Producer
	var publisher domain.EventPublisher
	if cfg.Kafka.Enabled {
		publisher = kafka.NewSnapshotPublisher(&cfg.Kafka)
		opts = append(opts, usecase.WithListener(publisher))
	}

	orchestrator := usecase.NewOrchestrator(
		validation.New(int64(cfg.Server.MaxUploadSizeMB)*1024*1024),
		processor.NewImagingDecoder(cfg.Processing.MaxPixels),
		remover,
		handles,
		progress.NewRamp(cfg.Processing.ProgressStep, cfg.Processing.ProgressInterval(), cfg.Processing.ProgressCeiling),
		opts...,
	)
	presenter := usecase.NewPresenter(orchestrator, handles, cfg.Processing.DownloadPrefix)

	// Optional history
	var history domain.HistoryService
	if cfg.Database.Enabled {
		database, err := infradatabase.Connect(ctx, &cfg.Database)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to database after all retries")
		}
		defer infradatabase.Close(database)

		if err := infradatabase.RunMigrations(database, cfg.Migrations.Path); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("Migrations failed")
		}
		history = usecase.NewHistoryUsecase(postgres.NewSessionRepository(database, retry.DefaultStrategy))
	}

	// Gin engine + middleware
	engine := ginext.New("api")
	engine.Use(
		middleware.RequestIDMiddleware(),
		middleware.ErrorHandlerMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.CORSMiddleware(cfg.Server.AllowedOrigins),
	)

	sessionHandler := httpHandler.NewSessionHandler(
		orchestrator,
		presenter,
		history,
		hub,
		handles,
		cfg.Server.MaxUploadSizeMB,
	)
	sessionHandler.RegisterRoutes(engine)

	if cfg.Server.StaticDir != "" {
		engine.GET("/", func(c *ginext.Context) {
			c.File(filepath.Join(cfg.Server.StaticDir, "index.html"))
		})
		engine.Static("/static", cfg.Server.StaticDir)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      middleware.StreamWithoutWriteDeadline(engine, httpHandler.EventsPath),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Logger.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Logger.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
		defer cancel()

		// Streams end when the hub closes, so it goes before the server.
		_ = hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
		} else {
			zlog.Logger.Info().Msg("HTTP server stopped gracefully")
		}

		if err := orchestrator.Close(shutdownCtx); err != nil {
			zlog.Logger.Error().Err(err).Msg("orchestrator did not stop in time")
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("closing snapshot publisher failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zlog.Logger.Error().Err(err).Msg("API server stopped with error")
	}
	zlog.Logger.Info().Msg("API shutdown complete")
}

// transitionLogger logs phase changes at Info and progress ticks at Debug.
// Listeners are called one at a time, so last needs no lock.
func transitionLogger() domain.SnapshotListenerFunc {
	var last domain.Snapshot
	return func(s domain.Snapshot) {
		event := zlog.Logger.Debug()
		if s.Phase != last.Phase || s.SessionID != last.SessionID {
			event = zlog.Logger.Info()
		}
		last = s

		event = event.
			Str("session_id", s.SessionID).
			Str("phase", string(s.Phase)).
			Int("progress", s.Progress).
			Uint64("seq", s.Seq)
		if s.Error != nil {
			event = event.Str("error_kind", string(s.Error.Kind))
		}
		event.Msg("session transition")
	}
}

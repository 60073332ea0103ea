package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/config"
	"github.com/yokitheyo/cutout/internal/helpers"
)

const (
	defaultConnectRetries = 15
	defaultConnectDelay   = 3 * time.Second
)

// Connect opens the master and any comma-separated slaves from cfg and
// waits for the master to answer a ping.
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*dbpg.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	var slaves []string
	if strings.TrimSpace(cfg.Slaves) != "" {
		slaves = helpers.SplitAndTrim(cfg.Slaves, ",")
	}
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSec) * time.Second,
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = defaultConnectRetries
	}
	delay := time.Duration(cfg.ConnectRetryDelaySec) * time.Second
	if delay <= 0 {
		delay = defaultConnectDelay
	}

	return ConnectWithRetries(ctx, cfg.DSN, slaves, opts, retries, delay)
}

func ConnectWithRetries(ctx context.Context, masterDSN string, slaves []string, opts *dbpg.Options, retries int, delay time.Duration) (*dbpg.DB, error) {
	if retries <= 0 {
		retries = 1
	}

	var err error
	for i := 0; i < retries; i++ {
		zlog.Logger.Info().Msgf("Database connection attempt %d/%d", i+1, retries)

		var database *dbpg.DB
		database, err = dbpg.New(masterDSN, slaves, opts)
		switch {
		case err != nil:
			zlog.Logger.Warn().Err(err).Msgf("dbpg.New failed on attempt %d/%d", i+1, retries)
		case database.Master == nil:
			err = fmt.Errorf("database.Master is nil")
			zlog.Logger.Warn().Err(err).Msgf("nil master connection on attempt %d/%d", i+1, retries)
		default:
			if err = database.Master.PingContext(ctx); err == nil {
				zlog.Logger.Info().Msg("Database connection established successfully")
				return database, nil
			}
			zlog.Logger.Warn().Err(err).Msgf("db ping failed on attempt %d/%d", i+1, retries)
			Close(database)
		}

		if i == retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d retries: %w", retries, err)
}

func Close(database *dbpg.DB) {
	if database == nil {
		return
	}
	if database.Master != nil {
		if err := database.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("closing db master failed")
		}
	}
	for i, s := range database.Slaves {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave_index", i).Msg("closing db slave failed")
		}
	}
}

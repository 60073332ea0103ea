package database

import (
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

const defaultMigrationsPath = "migrations"

func RunMigrations(db *dbpg.DB, path string) error {
	if db == nil || db.Master == nil {
		return fmt.Errorf("run migrations: no database connection")
	}
	if path == "" {
		path = defaultMigrationsPath
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.Master, path); err != nil {
		return fmt.Errorf("apply migrations from %s: %w", path, err)
	}

	version, err := goose.GetDBVersion(db.Master)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("migrations applied but version is unknown")
		return nil
	}
	zlog.Logger.Info().Int64("version", version).Str("path", path).Msg("Database migrations applied")
	return nil
}

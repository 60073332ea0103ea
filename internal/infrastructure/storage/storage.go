package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/cutout/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// Storage holds the bytes behind display handles. Keys are relative paths
// such as "handles/<id>.png".
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

func New(cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		zlog.Logger.Info().Msg("Initializing in-memory storage")
		return NewMemoryStorage(), nil
	case "local":
		zlog.Logger.Info().Str("path", cfg.LocalPath).Msg("Initializing local storage")
		return NewLocalStorage(cfg)
	case "s3":
		zlog.Logger.Info().Str("bucket", cfg.S3Bucket).Msg("Initializing S3 storage")
		return NewS3Storage(cfg)
	default:
		zlog.Logger.Error().Str("type", cfg.Type).Msg("Unsupported storage type, use 'memory', 'local' or 's3'")
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

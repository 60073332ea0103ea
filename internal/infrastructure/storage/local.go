package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/cutout/internal/config"
)

type localStorage struct {
	basePath string
}

func NewLocalStorage(cfg *config.StorageConfig) (Storage, error) {
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("LocalPath is empty, set storage.local_path in config or env")
	}
	if cfg.HandlesDir == "" {
		cfg.HandlesDir = "handles"
	}

	if err := os.MkdirAll(filepath.Join(cfg.LocalPath, cfg.HandlesDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create handles directory: %w", err)
	}

	return &localStorage{basePath: cfg.LocalPath}, nil
}

func (s *localStorage) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

func (s *localStorage) Save(ctx context.Context, key string, reader io.Reader) (string, error) {
	if reader == nil {
		zlog.Logger.Error().Str("key", key).Msg("reader is nil")
		return "", fmt.Errorf("reader is nil")
	}

	fullPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", key, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to create file")
		return "", fmt.Errorf("create file %s: %w", fullPath, err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to write file")
		return "", fmt.Errorf("write file %s: %w", fullPath, err)
	}

	zlog.Logger.Debug().
		Str("key", key).
		Int64("bytes", written).
		Msg("file saved")

	return key, nil
}

func (s *localStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to open file")
		return nil, fmt.Errorf("open file %s: %w", fullPath, err)
	}
	return file, nil
}

func (s *localStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			zlog.Logger.Warn().Str("path", fullPath).Msg("file not found, skipping delete")
			return nil
		}
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to delete file")
		return fmt.Errorf("delete file %s: %w", fullPath, err)
	}

	zlog.Logger.Debug().Str("key", key).Msg("file deleted")
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/cutout/internal/config"
)

type s3Storage struct {
	client *minio.Client
	bucket string
}

func NewS3Storage(cfg *config.StorageConfig) (Storage, error) {
	if cfg.S3Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}

	creds := credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, "")
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check s3 bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{Region: cfg.S3Region}); err != nil {
			zlog.Logger.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("unable to create bucket, ensure it exists and credentials are correct")
		} else {
			zlog.Logger.Info().Str("bucket", cfg.S3Bucket).Msg("created s3 bucket")
		}
	}

	return &s3Storage{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *s3Storage) Save(ctx context.Context, key string, reader io.Reader) (string, error) {
	if reader == nil {
		zlog.Logger.Error().Str("key", key).Msg("reader is nil")
		return "", fmt.Errorf("reader is nil")
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, -1, minio.PutObjectOptions{})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("object", key).Msg("failed to put object to s3")
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	zlog.Logger.Debug().Str("key", key).Msg("object saved to s3")
	return key, nil
}

func (s *s3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("object", key).Msg("failed to get object")
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return obj, nil
}

func (s *s3Storage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		zlog.Logger.Error().Err(err).Str("key", key).Msg("failed to delete object from s3")
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	zlog.Logger.Debug().Str("key", key).Msg("object deleted from s3")
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr               string   `mapstructure:"addr"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
	ReadTimeoutSec     int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec    int      `mapstructure:"write_timeout_sec"`
	MaxUploadSizeMB    int      `mapstructure:"max_upload_size_mb"`
	StaticDir          string   `mapstructure:"static_dir"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

type ProcessingConfig struct {
	Engine             string `mapstructure:"engine"`
	RemoteURL          string `mapstructure:"remote_url"`
	RemoteTimeoutSec   int    `mapstructure:"remote_timeout_sec"`
	EngineTimeoutSec   int    `mapstructure:"engine_timeout_sec"`
	ChromaTolerance    int    `mapstructure:"chroma_tolerance"`
	FeatherRadius      int    `mapstructure:"feather_radius"`
	ProgressStep       int    `mapstructure:"progress_step"`
	ProgressIntervalMs int    `mapstructure:"progress_interval_ms"`
	ProgressCeiling    int    `mapstructure:"progress_ceiling"`
	DownloadPrefix     string `mapstructure:"download_prefix"`
	MaxPixels          int64  `mapstructure:"max_pixels"`
}

func (p ProcessingConfig) ProgressInterval() time.Duration {
	return time.Duration(p.ProgressIntervalMs) * time.Millisecond
}

func (p ProcessingConfig) RemoteTimeout() time.Duration {
	return time.Duration(p.RemoteTimeoutSec) * time.Second
}

func (p ProcessingConfig) EngineTimeout() time.Duration {
	return time.Duration(p.EngineTimeoutSec) * time.Second
}

type StorageConfig struct {
	Type       string `mapstructure:"type"`
	LocalPath  string `mapstructure:"local_path"`
	HandlesDir string `mapstructure:"handles_dir"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	BufferSize int      `mapstructure:"buffer_size"`
}

type DatabaseConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	DSN                  string `mapstructure:"dsn"`
	Slaves               string `mapstructure:"slaves"`
	MaxOpenConns         int    `mapstructure:"max_open_conns"`
	MaxIdleConns         int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSec   int    `mapstructure:"conn_max_lifetime_sec"`
	ConnectRetries       int    `mapstructure:"connect_retries"`
	ConnectRetryDelaySec int    `mapstructure:"connect_retry_delay_sec"`
}

type MigrationsConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Apply sets the global log level.
func (l LoggingConfig) Apply() error {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func Load(path string) (*Config, error) {
	cfg := config.New()

	configPath := path
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		} else if _, err := os.Stat("/app/config.yaml"); err == nil {
			configPath = "/app/config.yaml"
		} else {
			return nil, fmt.Errorf("config.yaml not found")
		}
	}

	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = ""
	}

	if err := cfg.Load(configPath, envPath, "APP"); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appConfig := &Config{}
	if err := cfg.Unmarshal(appConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(appConfig)

	if err := validateConfig(appConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	zlog.Logger.Info().
		Str("engine", appConfig.Processing.Engine).
		Str("storage", appConfig.Storage.Type).
		Bool("kafka", appConfig.Kafka.Enabled).
		Bool("database", appConfig.Database.Enabled).
		Int("max_upload_size_mb", appConfig.Server.MaxUploadSizeMB).
		Msg("Config loaded successfully via wbf")

	return appConfig, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = 10
	}
	if cfg.Server.ReadTimeoutSec == 0 {
		cfg.Server.ReadTimeoutSec = 30
	}
	if cfg.Server.WriteTimeoutSec == 0 {
		cfg.Server.WriteTimeoutSec = 60
	}
	if cfg.Server.MaxUploadSizeMB == 0 {
		cfg.Server.MaxUploadSizeMB = 10
	}

	if cfg.Processing.Engine == "" {
		cfg.Processing.Engine = "chroma"
	}
	if cfg.Processing.ChromaTolerance == 0 {
		cfg.Processing.ChromaTolerance = 48
	}
	if cfg.Processing.RemoteTimeoutSec == 0 {
		cfg.Processing.RemoteTimeoutSec = 60
	}
	if cfg.Processing.ProgressStep == 0 {
		cfg.Processing.ProgressStep = 5
	}
	if cfg.Processing.ProgressIntervalMs == 0 {
		cfg.Processing.ProgressIntervalMs = 200
	}
	if cfg.Processing.ProgressCeiling == 0 {
		cfg.Processing.ProgressCeiling = 95
	}
	if cfg.Processing.MaxPixels == 0 {
		cfg.Processing.MaxPixels = 24_000_000
	}
	if cfg.Processing.DownloadPrefix == "" {
		cfg.Processing.DownloadPrefix = "cutout"
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.HandlesDir == "" {
		cfg.Storage.HandlesDir = "handles"
	}

	if cfg.Kafka.BufferSize == 0 {
		cfg.Kafka.BufferSize = 64
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg *Config) error {
	// Server
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive")
	}
	if cfg.Server.ReadTimeoutSec <= 0 {
		return fmt.Errorf("server.read_timeout_sec must be positive")
	}
	if cfg.Server.WriteTimeoutSec <= 0 {
		return fmt.Errorf("server.write_timeout_sec must be positive")
	}
	if cfg.Server.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("server.max_upload_size_mb must be positive")
	}

	// Processing
	switch cfg.Processing.Engine {
	case "chroma":
		if cfg.Processing.ChromaTolerance < 0 || cfg.Processing.ChromaTolerance > 255 {
			return fmt.Errorf("processing.chroma_tolerance must be within 0..255")
		}
	case "remote":
		if cfg.Processing.RemoteURL == "" {
			return fmt.Errorf("processing.remote_url is required for remote engine")
		}
	default:
		return fmt.Errorf("processing.engine must be 'chroma' or 'remote'")
	}
	if cfg.Processing.EngineTimeoutSec < 0 {
		return fmt.Errorf("processing.engine_timeout_sec must be non-negative")
	}
	if cfg.Processing.MaxPixels < 0 {
		return fmt.Errorf("processing.max_pixels must be positive")
	}
	if cfg.Processing.ProgressStep <= 0 {
		return fmt.Errorf("processing.progress_step must be positive")
	}
	if cfg.Processing.ProgressIntervalMs <= 0 {
		return fmt.Errorf("processing.progress_interval_ms must be positive")
	}
	if cfg.Processing.ProgressCeiling <= 0 || cfg.Processing.ProgressCeiling >= 100 {
		return fmt.Errorf("processing.progress_ceiling must be within 1..99")
	}

	// Storage
	switch cfg.Storage.Type {
	case "memory":
	case "local":
		if cfg.Storage.LocalPath == "" {
			return fmt.Errorf("storage.local_path is required for local storage")
		}
	case "s3":
		if cfg.Storage.S3Endpoint == "" {
			return fmt.Errorf("storage.s3_endpoint is required for s3 storage")
		}
		if cfg.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for s3 storage")
		}
		if cfg.Storage.S3AccessKey == "" || cfg.Storage.S3SecretKey == "" {
			return fmt.Errorf("storage.s3_access_key and storage.s3_secret_key are required for s3 storage")
		}
	default:
		return fmt.Errorf("storage.type must be 'memory', 'local' or 's3'")
	}

	// Kafka
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must contain at least one broker")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required")
		}
	}

	// Database
	if cfg.Database.Enabled {
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if cfg.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive")
		}
		if cfg.Database.MaxIdleConns < 0 {
			return fmt.Errorf("database.max_idle_conns must be non-negative")
		}
		if cfg.Migrations.Path == "" {
			return fmt.Errorf("migrations.path is required")
		}
	}

	// Logging
	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error")
	}

	return nil
}

// ValidateWorker checks the settings the history worker cannot run without.
func ValidateWorker(cfg *Config) error {
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka.enabled must be true for the worker")
	}
	if cfg.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id is required")
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database.enabled must be true for the worker")
	}
	return nil
}

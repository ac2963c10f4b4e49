package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/retry"
	"catalogsync/pkg/constraints"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment   string        `mapstructure:"environment"`
	Port          string        `mapstructure:"port"`
	MaxUploadMB   int64         `mapstructure:"max_upload_mb"`
	AllowOrigins  []string      `mapstructure:"allow_origins"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig selects the gorm dialect: mysql, postgres or sqlite.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EtcdConfig configures the lock service. With Enabled false the process
// uses in-memory locks, which only holds for a single replica.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	LockTTL     int           `mapstructure:"lock_ttl"`
}

// NATSConfig configures the JetStream job queue. With Enabled false jobs go
// through an in-process queue and only the "all" command can consume them.
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Stream        string        `mapstructure:"stream"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

type StorageConfig struct {
	Driver    string        `mapstructure:"driver"`
	LocalPath string        `mapstructure:"local_path"`
	MinIO     MinIOConfig   `mapstructure:"minio"`
	Retention time.Duration `mapstructure:"retention"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type IngestConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxErrorDetails int           `mapstructure:"max_error_details"`
	ProgressTTL     time.Duration `mapstructure:"progress_ttl"`
}

// JobLimits holds the execution envelope of one job kind.
type JobLimits struct {
	HardLimit  time.Duration `mapstructure:"hard_limit"`
	SoftLimit  time.Duration `mapstructure:"soft_limit"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Workers    int           `mapstructure:"workers"`
}

// HarnessConfig holds one envelope per job kind. WebhookDispatch fans an
// event out into one WebhookDelivery task per subscription; the delivery
// workers bound concurrent outbound calls.
type HarnessConfig struct {
	Ingestion       JobLimits `mapstructure:"ingestion"`
	WebhookDispatch JobLimits `mapstructure:"webhook_dispatch"`
	WebhookDelivery JobLimits `mapstructure:"webhook_delivery"`
	BulkDelete      JobLimits `mapstructure:"bulk_delete"`
}

type WebhookConfig struct {
	BackoffUnit time.Duration `mapstructure:"backoff_unit"`
	UserAgent   string        `mapstructure:"user_agent"`
}

type WorkersConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval"`
	// ReaperGrace is added to a job's hard limit before a running task
	// without a live lock holder is considered orphaned.
	ReaperGrace time.Duration `mapstructure:"reaper_grace"`
	// RequeueAfter is how long a queued task may sit untouched before its
	// job message is published again.
	RequeueAfter time.Duration `mapstructure:"requeue_after"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HubBufferSize     int           `mapstructure:"hub_buffer_size"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	DevMode         bool          `mapstructure:"dev_mode"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.shutdown_grace", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "catalogsync:catalogsync@tcp(localhost:3306)/catalogsync?charset=utf8mb4&parseTime=True&loc=Local")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("etcd.enabled", true)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.lock_ttl", 10)

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "CATALOGSYNC")
	v.SetDefault("nats.subject_prefix", "catalogsync.jobs")
	v.SetDefault("nats.ack_wait", "1m")
	v.SetDefault("nats.fetch_timeout", "5s")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_path", "./data/uploads")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "catalog-uploads")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.retention", "720h")

	v.SetDefault("ingest.batch_size", 1000)
	v.SetDefault("ingest.max_error_details", 100)
	v.SetDefault("ingest.progress_ttl", "1h")

	v.SetDefault("harness.ingestion.hard_limit", "1h")
	v.SetDefault("harness.ingestion.soft_limit", "55m")
	v.SetDefault("harness.ingestion.max_retries", 3)
	v.SetDefault("harness.ingestion.retry_delay", "5m")
	v.SetDefault("harness.ingestion.workers", 4)
	v.SetDefault("harness.webhook_dispatch.hard_limit", "5m")
	v.SetDefault("harness.webhook_dispatch.soft_limit", "270s")
	v.SetDefault("harness.webhook_dispatch.max_retries", 2)
	v.SetDefault("harness.webhook_dispatch.retry_delay", "30s")
	v.SetDefault("harness.webhook_dispatch.workers", 4)
	v.SetDefault("harness.webhook_delivery.hard_limit", "2h")
	v.SetDefault("harness.webhook_delivery.soft_limit", "100m")
	v.SetDefault("harness.webhook_delivery.max_retries", 2)
	v.SetDefault("harness.webhook_delivery.retry_delay", "30s")
	v.SetDefault("harness.webhook_delivery.workers", 8)
	v.SetDefault("harness.bulk_delete.hard_limit", "1h")
	v.SetDefault("harness.bulk_delete.soft_limit", "55m")
	v.SetDefault("harness.bulk_delete.max_retries", 3)
	v.SetDefault("harness.bulk_delete.retry_delay", "1m")
	v.SetDefault("harness.bulk_delete.workers", 1)

	v.SetDefault("webhook.backoff_unit", "1s")
	v.SetDefault("webhook.user_agent", "CatalogSync-Webhook/1.0")

	v.SetDefault("workers.outbox_interval", "2s")
	v.SetDefault("workers.outbox_batch_size", 10)
	v.SetDefault("workers.reaper_interval", "5m")
	v.SetDefault("workers.reaper_grace", "1m")
	v.SetDefault("workers.requeue_after", "15m")

	v.SetDefault("stream.heartbeat_interval", "15s")
	v.SetDefault("stream.hub_buffer_size", 64)

	// Registered so that CATALOGSYNC_AUTH_* variables reach Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.dev_mode", false)
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")

	v.SetDefault("ratelimit.requests_per_second", 5)
}

// Load reads config.yaml from the working directory (or ./config, or the
// explicit path when non-empty) and overlays CATALOGSYNC_* env variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CATALOGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.MaxErrorDetails < 0 {
		return fmt.Errorf("ingest.max_error_details must not be negative")
	}
	for name, l := range map[string]JobLimits{
		"ingestion":        c.Harness.Ingestion,
		"webhook_dispatch": c.Harness.WebhookDispatch,
		"webhook_delivery": c.Harness.WebhookDelivery,
		"bulk_delete":      c.Harness.BulkDelete,
	} {
		if l.HardLimit <= 0 {
			return fmt.Errorf("harness.%s.hard_limit must be positive", name)
		}
		if l.SoftLimit <= 0 || l.SoftLimit >= l.HardLimit {
			return fmt.Errorf("harness.%s.soft_limit must be below hard_limit", name)
		}
		if l.MaxRetries < 0 {
			return fmt.Errorf("harness.%s.max_retries must not be negative", name)
		}
	}
	if c.Webhook.BackoffUnit <= 0 {
		return errors.New("webhook.backoff_unit must be positive")
	}
	// A delivery task must be able to finish the longest retry sequence a
	// subscription may configure before its soft limit stops it.
	if worst := DeliveryBudget(c.Webhook.BackoffUnit); c.Harness.WebhookDelivery.SoftLimit < worst {
		return fmt.Errorf("harness.webhook_delivery.soft_limit %s is shorter than the longest delivery sequence %s",
			c.Harness.WebhookDelivery.SoftLimit, worst)
	}
	if c.Auth.JWTSecret == "" && c.Server.Environment == "prod" {
		return errors.New("auth.jwt_secret is required in prod")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		return errors.New("auth.refresh_token_ttl must exceed a positive access_token_ttl")
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// DeliveryBudget is the worst-case duration of one webhook attempt sequence:
// the maximum retry count with 2^n backoff, every attempt hitting the
// maximum timeout.
func DeliveryBudget(backoffUnit time.Duration) time.Duration {
	p := retry.Exponential(constraints.WebhookMaxRetries, backoffUnit)
	return p.Budget(constraints.WebhookMaxTimeoutSeconds * time.Second)
}

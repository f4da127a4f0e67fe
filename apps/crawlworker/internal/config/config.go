// Package config handles configuration loading for the crawl/ingest worker.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration for crawlworker.
type Config struct {
	Service      ServiceConfig      `mapstructure:"service"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Limiter      LimiterConfig      `mapstructure:"limiter"`
	Feeder       FeederConfig       `mapstructure:"feeder"`
	Runner       RunnerConfig       `mapstructure:"runner"`
	Processing   ProcessingConfig   `mapstructure:"processing"`
	Cron         CronConfig         `mapstructure:"cron"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Auth         AuthConfig         `mapstructure:"auth"`
}

// ServiceConfig contains service-level configuration.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	MaxRetries  int           `mapstructure:"max_retries"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// LimiterConfig configures TenantConcurrencyLimiter (C1).
type LimiterConfig struct {
	DefaultCapacity     int           `mapstructure:"default_capacity"`
	BreakerFailThresh   int           `mapstructure:"breaker_fail_threshold"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
	BreakerHalfOpenMax  int           `mapstructure:"breaker_half_open_max"`
}

// FeederConfig configures CrawlFeeder (C2).
type FeederConfig struct {
	LeaderLockTTL     time.Duration `mapstructure:"leader_lock_ttl"`
	LeaderRefreshEach time.Duration `mapstructure:"leader_refresh_interval"`
	DrainInterval     time.Duration `mapstructure:"drain_interval"`
	DrainBatchSize    int           `mapstructure:"drain_batch_size"`
}

// RunnerConfig configures CrawlTaskRunner (C3).
type RunnerConfig struct {
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	MaxRetries  int           `mapstructure:"max_retries"`
	MaxAge      time.Duration `mapstructure:"max_age"`
}

// ProcessingConfig configures BatchPersister (C4).
type ProcessingConfig struct {
	ChunkSizeTokens       int           `mapstructure:"chunk_size_tokens"`
	ChunkOverlapTokens    int           `mapstructure:"chunk_overlap_tokens"`
	EmbeddingConcurrency  int           `mapstructure:"embedding_concurrency"`
	EmbeddingTimeout      time.Duration `mapstructure:"embedding_timeout"`
	MaxBatchEmbeddingSize int           `mapstructure:"max_batch_embedding_bytes"`
}

// CronConfig configures CronLoops (C7).
type CronConfig struct {
	QueueDueWebsitesInterval time.Duration `mapstructure:"queue_due_websites_interval"`
	SubscriptionRenewal      time.Duration `mapstructure:"subscription_renewal_interval"`
	PurgeAuditLogsAt         string        `mapstructure:"purge_audit_logs_at"`
	PurgeConversationsAt     string        `mapstructure:"purge_conversations_at"`
	CleanupExportFilesAt     string        `mapstructure:"cleanup_export_files_at"`
}

// QueueConfig selects and configures the job queue backend.
type QueueConfig struct {
	Backend     string `mapstructure:"backend"` // "redis" or "sqs"
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
	SQSRegion   string `mapstructure:"sqs_region"`
}

// SubscriptionConfig configures SubscriptionManager (C6)'s Graph webhook
// lifecycle. NotificationWebhookURL left blank disables subscriptions
// entirely (EnsureSubscription becomes a no-op).
type SubscriptionConfig struct {
	GraphBaseURL           string        `mapstructure:"graph_base_url"`
	NotificationWebhookURL string        `mapstructure:"notification_webhook_url"`
	ClientState            string        `mapstructure:"client_state"`
	TTL                    time.Duration `mapstructure:"ttl"`
	RenewalThreshold       time.Duration `mapstructure:"renewal_threshold"`
}

// AuthConfig configures the operator HTTP surface's JWT validation.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// Load reads configuration from built-in defaults, an optional YAML file
// and environment variables, in that order of increasing priority for
// explicitly-set values.
func Load() (*Config, error) {
	viper.SetConfigName("crawlworker")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("./apps/crawlworker/configs")
	viper.AddConfigPath("/configs")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("service.port", 8090)
	viper.SetDefault("service.metrics_port", 9095)
	viper.SetDefault("service.shutdown_timeout", "30s")
	viper.SetDefault("service.log_level", "info")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "crawlmesh")
	viper.SetDefault("database.username", "crawlmesh")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("limiter.default_capacity", 5)
	viper.SetDefault("limiter.breaker_fail_threshold", 5)
	viper.SetDefault("limiter.breaker_reset_timeout", "30s")
	viper.SetDefault("limiter.breaker_half_open_max", 3)

	viper.SetDefault("feeder.leader_lock_ttl", "30s")
	viper.SetDefault("feeder.leader_refresh_interval", "10s")
	viper.SetDefault("feeder.drain_interval", "5s")
	viper.SetDefault("feeder.drain_batch_size", 50)

	viper.SetDefault("runner.base_backoff", "1s")
	viper.SetDefault("runner.max_backoff", "5m")
	viper.SetDefault("runner.max_retries", 8)
	viper.SetDefault("runner.max_age", "24h")

	viper.SetDefault("processing.chunk_size_tokens", 200)
	viper.SetDefault("processing.chunk_overlap_tokens", 40)
	viper.SetDefault("processing.embedding_concurrency", 3)
	viper.SetDefault("processing.embedding_timeout", "30s")
	viper.SetDefault("processing.max_batch_embedding_bytes", 1_000_000)

	viper.SetDefault("cron.queue_due_websites_interval", "1h")
	viper.SetDefault("cron.subscription_renewal_interval", "15m")
	viper.SetDefault("cron.purge_audit_logs_at", "03:00")
	viper.SetDefault("cron.purge_conversations_at", "03:30")
	viper.SetDefault("cron.cleanup_export_files_at", "04:00")

	viper.SetDefault("queue.backend", "redis")

	viper.SetDefault("subscription.graph_base_url", "https://graph.microsoft.com/v1.0")
	viper.SetDefault("subscription.ttl", "72h")
	viper.SetDefault("subscription.renewal_threshold", "24h")

	viper.SetDefault("auth.jwt_issuer", "crawlmesh")
}

func bindEnvVars() {
	viper.AutomaticEnv()

	_ = viper.BindEnv("service.port", "CRAWLWORKER_PORT")
	_ = viper.BindEnv("service.log_level", "LOG_LEVEL")

	_ = viper.BindEnv("database.host", "DATABASE_HOST")
	_ = viper.BindEnv("database.port", "DATABASE_PORT")
	_ = viper.BindEnv("database.database", "DATABASE_NAME")
	_ = viper.BindEnv("database.username", "DATABASE_USER")
	_ = viper.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	_ = viper.BindEnv("redis.address", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")

	_ = viper.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = viper.BindEnv("queue.sqs_queue_url", "SQS_QUEUE_URL")
	_ = viper.BindEnv("queue.sqs_region", "SQS_REGION")

	_ = viper.BindEnv("subscription.notification_webhook_url", "SUBSCRIPTION_WEBHOOK_URL")
	_ = viper.BindEnv("subscription.client_state", "SUBSCRIPTION_CLIENT_STATE")

	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("auth.jwt_issuer", "JWT_ISSUER")
}

func validate(cfg *Config) error {
	if cfg.Service.Port <= 0 || cfg.Service.Port > 65535 {
		return fmt.Errorf("invalid service port: %d", cfg.Service.Port)
	}
	if cfg.Processing.ChunkOverlapTokens >= cfg.Processing.ChunkSizeTokens {
		return fmt.Errorf("chunk_overlap_tokens must be smaller than chunk_size_tokens")
	}
	if cfg.Queue.Backend != "redis" && cfg.Queue.Backend != "sqs" {
		return fmt.Errorf("invalid queue backend: %s", cfg.Queue.Backend)
	}
	return nil
}

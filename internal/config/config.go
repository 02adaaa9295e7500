package config

import (
	"errors"
	"time"

	"github.com/verifyd/screening-worker/internal/logger"
)

// Default values applied when the config file leaves a field unset.
const (
	defaultHTTPPort = 8080

	defaultRedisAddr   = "localhost:6379"
	defaultQueuePrefix = "screening"

	defaultConsumerGroup = "screening-workers"
	defaultBlockTimeout  = 5 * time.Second
	defaultBatchSize     = 10
	defaultClaimMinIdle  = 5 * time.Minute
	defaultErrorBackoff  = 5 * time.Second

	defaultStateOpTimeout      = 10 * time.Second
	defaultStaleAfter          = 30 * time.Minute
	defaultReconcileInterval   = 5 * time.Minute
	defaultMaxWorkers          = 16
	defaultChunkSize           = 8
	defaultMaxConcurrentChunks = 8
	defaultShutdownTimeout     = 30 * time.Second

	defaultModelTimeout  = 120 * time.Second
	defaultDocumentModel = "doc-screening"
	defaultMaxRetries    = 3
	defaultBaseDelay     = 2 * time.Second
	defaultMaxRetryDelay = 60 * time.Second

	defaultMinCallInterval = 500 * time.Millisecond
	defaultSafetyMargin    = 50 * time.Millisecond

	defaultArmorTimeout = 10 * time.Second

	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 5 * time.Minute
)

// Config is the root worker configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	State     StateConfig     `yaml:"state"`
	Worker    WorkerConfig    `yaml:"worker"`
	Model     ModelConfig     `yaml:"model"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	History   HistoryConfig   `yaml:"history"`
	Armor     ArmorConfig     `yaml:"armor"`
	Logging   logger.Config   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface (health, status, metrics).
type ServerConfig struct {
	Port int    `yaml:"port" env:"HTTP_PORT"`
	Host string `yaml:"host" env:"HTTP_HOST"`
}

// QueueConfig configures the Redis Streams job queue.
type QueueConfig struct {
	Addr          string        `yaml:"addr" env:"REDIS_ADDR"`
	Password      string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB            int           `yaml:"db" env:"REDIS_DB"`
	Prefix        string        `yaml:"prefix" env:"QUEUE_PREFIX"`
	ConsumerGroup string        `yaml:"consumer_group" env:"QUEUE_CONSUMER_GROUP"`
	ConsumerID    string        `yaml:"consumer_id" env:"QUEUE_CONSUMER_ID"`
	BlockTimeout  time.Duration `yaml:"block_timeout" env:"QUEUE_BLOCK_TIMEOUT"`
	BatchSize     int64         `yaml:"batch_size" env:"QUEUE_BATCH_SIZE"`
	ClaimMinIdle  time.Duration `yaml:"claim_min_idle" env:"QUEUE_CLAIM_MIN_IDLE"`
	ErrorBackoff  time.Duration `yaml:"error_backoff" env:"QUEUE_ERROR_BACKOFF"`
}

// StateConfig configures the job status store.
type StateConfig struct {
	KeyPrefix         string        `yaml:"key_prefix" env:"STATE_KEY_PREFIX"`
	OpTimeout         time.Duration `yaml:"op_timeout" env:"STATE_OP_TIMEOUT"`
	StaleAfter        time.Duration `yaml:"stale_after" env:"STATE_STALE_AFTER"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"STATE_RECONCILE_INTERVAL"`
}

// WorkerConfig configures job and chunk concurrency.
type WorkerConfig struct {
	MaxWorkers          int           `yaml:"max_workers" env:"WORKER_MAX_WORKERS"`
	ChunkSize           int           `yaml:"chunk_size" env:"WORKER_CHUNK_SIZE"`
	MaxConcurrentChunks int           `yaml:"max_concurrent_chunks" env:"WORKER_MAX_CONCURRENT_CHUNKS"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout" env:"WORKER_SHUTDOWN_TIMEOUT"`
}

// ModelConfig configures the inference API client.
type ModelConfig struct {
	BaseURL       string        `yaml:"base_url" env:"MODEL_BASE_URL"`
	APIKey        string        `yaml:"api_key" env:"MODEL_API_KEY"`
	DocumentModel string        `yaml:"document_model" env:"MODEL_DOCUMENT_MODEL"`
	Timeout       time.Duration `yaml:"timeout" env:"MODEL_TIMEOUT"`
}

// RateLimitConfig configures global spacing between inference calls.
type RateLimitConfig struct {
	MinCallInterval time.Duration `yaml:"min_call_interval" env:"RATE_MIN_CALL_INTERVAL"`
	SafetyMargin    time.Duration `yaml:"safety_margin" env:"RATE_SAFETY_MARGIN"`
}

// RetryConfig configures per-call retry behavior.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" env:"RETRY_MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY"`
}

// HistoryConfig configures the optional Postgres audit trail.
type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled" env:"HISTORY_ENABLED"`
	DSN             string        `yaml:"dsn" env:"HISTORY_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"HISTORY_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"HISTORY_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"HISTORY_CONN_MAX_LIFETIME"`
}

// ArmorConfig configures the prompt/response sanitization client.
type ArmorConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ARMOR_ENABLED"`
	Endpoint string        `yaml:"endpoint" env:"ARMOR_ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" env:"ARMOR_TIMEOUT"`
}

// Load reads the config file at path and applies defaults and env overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := load(path, &cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	// Env always wins, including over defaults
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills in zero-value fields section by section.
func (c *Config) SetDefaults() {
	c.setServerDefaults()
	c.setQueueDefaults()
	c.setStateDefaults()
	c.setWorkerDefaults()
	c.setModelDefaults()
	c.setRateLimitDefaults()
	c.setRetryDefaults()
	c.setHistoryDefaults()
	c.setArmorDefaults()
	c.Logging.SetDefaults()
}

// Validate checks fields that have no usable default.
func (c *Config) Validate() error {
	if c.Model.BaseURL == "" {
		return errors.New("model.base_url is required")
	}
	if c.History.Enabled && c.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	if c.Armor.Enabled && c.Armor.Endpoint == "" {
		return errors.New("armor.endpoint is required when armor is enabled")
	}
	return nil
}

func (c *Config) setServerDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultHTTPPort
	}
}

func (c *Config) setQueueDefaults() {
	if c.Queue.Addr == "" {
		c.Queue.Addr = defaultRedisAddr
	}
	if c.Queue.Prefix == "" {
		c.Queue.Prefix = defaultQueuePrefix
	}
	if c.Queue.ConsumerGroup == "" {
		c.Queue.ConsumerGroup = defaultConsumerGroup
	}
	if c.Queue.BlockTimeout <= 0 {
		c.Queue.BlockTimeout = defaultBlockTimeout
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = defaultBatchSize
	}
	if c.Queue.ClaimMinIdle <= 0 {
		c.Queue.ClaimMinIdle = defaultClaimMinIdle
	}
	if c.Queue.ErrorBackoff <= 0 {
		c.Queue.ErrorBackoff = defaultErrorBackoff
	}
}

func (c *Config) setStateDefaults() {
	if c.State.KeyPrefix == "" {
		c.State.KeyPrefix = defaultQueuePrefix
	}
	if c.State.OpTimeout <= 0 {
		c.State.OpTimeout = defaultStateOpTimeout
	}
	if c.State.StaleAfter <= 0 {
		c.State.StaleAfter = defaultStaleAfter
	}
	if c.State.ReconcileInterval <= 0 {
		c.State.ReconcileInterval = defaultReconcileInterval
	}
}

func (c *Config) setWorkerDefaults() {
	if c.Worker.MaxWorkers <= 0 {
		c.Worker.MaxWorkers = defaultMaxWorkers
	}
	if c.Worker.ChunkSize <= 0 {
		c.Worker.ChunkSize = defaultChunkSize
	}
	if c.Worker.MaxConcurrentChunks <= 0 {
		c.Worker.MaxConcurrentChunks = defaultMaxConcurrentChunks
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = defaultShutdownTimeout
	}
}

func (c *Config) setModelDefaults() {
	if c.Model.DocumentModel == "" {
		c.Model.DocumentModel = defaultDocumentModel
	}
	if c.Model.Timeout <= 0 {
		c.Model.Timeout = defaultModelTimeout
	}
}

func (c *Config) setRateLimitDefaults() {
	if c.RateLimit.MinCallInterval <= 0 {
		c.RateLimit.MinCallInterval = defaultMinCallInterval
	}
	if c.RateLimit.SafetyMargin <= 0 {
		c.RateLimit.SafetyMargin = defaultSafetyMargin
	}
}

func (c *Config) setRetryDefaults() {
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = defaultMaxRetries
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = defaultBaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaultMaxRetryDelay
	}
}

func (c *Config) setHistoryDefaults() {
	if c.History.MaxOpenConns <= 0 {
		c.History.MaxOpenConns = defaultDBMaxOpenConns
	}
	if c.History.MaxIdleConns <= 0 {
		c.History.MaxIdleConns = defaultDBMaxIdleConns
	}
	if c.History.ConnMaxLifetime <= 0 {
		c.History.ConnMaxLifetime = defaultDBConnMaxLifetime
	}
}

func (c *Config) setArmorDefaults() {
	if c.Armor.Timeout <= 0 {
		c.Armor.Timeout = defaultArmorTimeout
	}
}

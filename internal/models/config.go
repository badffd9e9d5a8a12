package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig  `json:"server"`
	Store    StoreConfig   `json:"store"`
	Queue    QueueConfig   `json:"queue"`
	Auth     AuthConfig    `json:"auth"`
	Tracing  TracingConfig `json:"tracing"`
	Retry    RetryConfig   `json:"retry"`
	LogLevel string        `json:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port              int  `json:"port"`
	ReadTimeoutSec    int  `json:"read_timeout_sec"`
	WriteTimeoutSec   int  `json:"write_timeout_sec"`
	IdleTimeoutSec    int  `json:"idle_timeout_sec"`
	TrustProxyHeaders bool `json:"trust_proxy_headers"`
}

// StoreConfig selects and configures the key-value backend
type StoreConfig struct {
	Backend          string       `json:"backend"`
	SQLite           SQLiteConfig `json:"sqlite"`
	Redis            RedisConfig  `json:"redis"`
	SweepIntervalSec int          `json:"sweep_interval_sec"`
	EncryptValues    bool         `json:"encrypt_values"`
	EncryptionSecret string       `json:"-"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
	PoolSize  int    `json:"pool_size"`
}

// QueueConfig holds retention and paging limits
type QueueConfig struct {
	TTLSeconds       int `json:"ttl_seconds"`
	DefaultPullLimit int `json:"default_pull_limit"`
	MaxPullLimit     int `json:"max_pull_limit"`
}

// AuthConfig holds the shared secrets. They are never read from the
// config file, only from the environment.
type AuthConfig struct {
	WebhookSecret string `json:"-"`
	PullToken     string `json:"-"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// RetryConfig controls the startup connection retry to the store
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

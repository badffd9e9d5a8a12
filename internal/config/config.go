package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"kvrelay/internal/constants"
	"kvrelay/internal/models"
	"kvrelay/internal/security"
	"kvrelay/internal/tracing"
	"kvrelay/internal/validation"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Environment variables read on top of the config file
const (
	EnvWebhookSecret    = "RELAY_WEBHOOK_SECRET"
	EnvPullToken        = "RELAY_PULL_TOKEN"
	EnvEncryptionSecret = "RELAY_ENCRYPTION_SECRET"
	EnvRedisPassword    = "RELAY_REDIS_PASSWORD"
	EnvPort             = "RELAY_PORT"
	EnvStoreBackend     = "RELAY_STORE_BACKEND"
	EnvSQLitePath       = "RELAY_SQLITE_PATH"
	EnvRedisAddr        = "RELAY_REDIS_ADDR"
	EnvLogLevel         = "RELAY_LOG_LEVEL"
)

var (
	ErrMissingWebhookSecret = models.ConfigError{Message: "missing webhook secret (set " + EnvWebhookSecret + ")"}
	ErrMissingPullToken     = models.ConfigError{Message: "missing pull token (set " + EnvPullToken + ")"}
	ErrMissingSQLitePath    = models.ConfigError{Message: "missing sqlite path"}
	ErrMissingRedisAddr     = models.ConfigError{Message: "missing redis address"}
)

// LoadDotEnv loads variables from a .env file if present. Variables that
// are already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads the JSON config at path, applies defaults and
// environment overrides, and validates the result. An empty path skips the
// file so the relay can run from the environment alone.
func LoadConfig(path string) (*models.Config, error) {
	var config models.Config

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Store.Backend == "" {
		c.Store.Backend = constants.StoreBackendMemory
	}
	if c.Store.Backend == constants.StoreBackendSQLite && c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = constants.DefaultSQLitePath
	}
	if c.Store.Backend == constants.StoreBackendRedis {
		if c.Store.Redis.Addr == "" {
			c.Store.Redis.Addr = constants.DefaultRedisAddr
		}
		if c.Store.Redis.KeyPrefix == "" {
			c.Store.Redis.KeyPrefix = constants.DefaultRedisKeyPrefix
		}
	}
	if c.Store.SweepIntervalSec <= 0 {
		c.Store.SweepIntervalSec = constants.DefaultSweepIntervalSec
	}

	if c.Queue.TTLSeconds <= 0 {
		c.Queue.TTLSeconds = constants.DefaultMessageTTLSec
	}
	if c.Queue.MaxPullLimit <= 0 {
		c.Queue.MaxPullLimit = constants.DefaultMaxPullLimit
	}
	if c.Queue.DefaultPullLimit <= 0 {
		c.Queue.DefaultPullLimit = min(constants.DefaultPullLimit, c.Queue.MaxPullLimit)
	}

	if c.Tracing.ServiceName == "" {
		defaults := tracing.DefaultTracingConfig()
		c.Tracing.ServiceName = defaults.ServiceName
		if c.Tracing.ServiceVersion == "" {
			c.Tracing.ServiceVersion = defaults.ServiceVersion
		}
		if c.Tracing.Environment == "" {
			c.Tracing.Environment = defaults.Environment
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = logrus.InfoLevel.String()
	}
}

func validate(c *models.Config) error {
	if err := validation.ValidateNumericRange(c.Server.Port, "server port", 1, 65535); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}
	timeouts := map[string]int{
		"read_timeout_sec":  c.Server.ReadTimeoutSec,
		"write_timeout_sec": c.Server.WriteTimeoutSec,
		"idle_timeout_sec":  c.Server.IdleTimeoutSec,
	}
	for name, value := range timeouts {
		if err := validation.ValidateTimeout(value, name); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid %s: %v", name, err)}
		}
	}

	switch c.Store.Backend {
	case constants.StoreBackendMemory:
	case constants.StoreBackendSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			return ErrMissingSQLitePath
		}
		if err := security.ValidateFilePath(c.Store.SQLite.Path); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid sqlite path: %v", err)}
		}
	case constants.StoreBackendRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return ErrMissingRedisAddr
		}
		if c.Store.Redis.DB < 0 {
			return models.ConfigError{Message: "redis db must not be negative"}
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown store backend %q", c.Store.Backend)}
	}

	if c.Queue.DefaultPullLimit > c.Queue.MaxPullLimit {
		return models.ConfigError{Message: fmt.Sprintf("default_pull_limit %d exceeds max_pull_limit %d", c.Queue.DefaultPullLimit, c.Queue.MaxPullLimit)}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level %q", c.LogLevel)}
	}

	if err := tracing.Validate(c.Tracing); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	c.Auth.WebhookSecret = os.Getenv(EnvWebhookSecret)
	c.Auth.PullToken = os.Getenv(EnvPullToken)
	c.Store.EncryptionSecret = os.Getenv(EnvEncryptionSecret)
	c.Store.Redis.Password = os.Getenv(EnvRedisPassword)

	if port := os.Getenv(EnvPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("%s must be a number, got %q", EnvPort, port)}
		}
		c.Server.Port = p
	}
	if backend := os.Getenv(EnvStoreBackend); backend != "" {
		c.Store.Backend = strings.ToLower(backend)
	}
	if path := os.Getenv(EnvSQLitePath); path != "" {
		c.Store.SQLite.Path = path
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		c.Store.Redis.Addr = addr
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	return nil
}

// validateSecurity checks the secrets after environment overrides. An empty
// pull token would let "Bearer " authenticate, so both secrets are always
// required.
func validateSecurity(c *models.Config) error {
	if c.Auth.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	if c.Auth.PullToken == "" {
		return ErrMissingPullToken
	}

	if c.Store.EncryptValues && len(c.Store.EncryptionSecret) < constants.MinEncryptionSecret {
		return models.ConfigError{Message: fmt.Sprintf("encryption secret must be at least %d characters (set %s)", constants.MinEncryptionSecret, EnvEncryptionSecret)}
	}

	if os.Getenv("RELAY_ENV") == "production" && c.LogLevel == logrus.DebugLevel.String() {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}

	return nil
}

package constants

// Queue layout and retention
const (
	MessageKeyPrefix         = "msg:"
	MessageKeyTimestampWidth = 20
	DefaultMessageTTLSec     = 864000 // 10 days
	DefaultPullLimit         = 50
	DefaultMaxPullLimit      = 1000
)

// HTTP surface
const (
	SignatureHeader     = "X-Signature"
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	MaxWebhookBodyBytes = 1 << 20
	MaxAckBodyBytes     = 1 << 20
)

// Default server values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Store backends
const (
	StoreBackendMemory = "memory"
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"

	DefaultSQLitePath       = "kvrelay.db"
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisKeyPrefix   = "kvrelay:"
	DefaultRedisScanCount   = 256
	DefaultSweepIntervalSec = 300
)

// Startup retry
const (
	DefaultStoreConnectAttempts = 5
	DefaultRetryBackoffMs       = 500
	DefaultMaxBackoffMs         = 10000
)

// Encryption settings
const (
	EncryptionSalt       = "kvrelay-value-encryption-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
	MinEncryptionSecret  = 32
)

// Privacy settings
const (
	DefaultMessageIDVisible = 4
	DefaultUserIDVisible    = 4
)

// Validation limits
const (
	MaxAckBatchSize = 10000
)

package service

// Standard log field names. Use these exact keys so log queries work the
// same across handlers, the relay service and the sweeper.
const (
	// Core identifiers
	LogFieldMessageID = "message_id"
	LogFieldUserID    = "user_id"
	LogFieldKey       = "key"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Event fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"

	// Request fields
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Queue counters
	LogFieldCount     = "count"
	LogFieldLimit     = "limit"
	LogFieldQueued    = "queued"
	LogFieldSkipped   = "skipped"
	LogFieldRequested = "requested"
	LogFieldDeleted   = "deleted"
	LogFieldListed    = "listed"

	// Performance
	LogFieldDuration = "duration_ms"
	LogFieldSize     = "size_bytes"

	// Store
	LogFieldBackend    = "backend"
	LogFieldReceivedAt = "received_at"
)

// Log level usage
//
// DEBUG: per-event detail (skipped events, individual deletions).
// INFO:  one line per request outcome (queued/pulled/acked counts).
// WARN:  recoverable anomalies (undecodable values, bad metadata).
// ERROR: store failures that fail the request.

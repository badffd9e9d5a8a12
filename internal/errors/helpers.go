package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewMalformedRequestError is returned when a request body does not have
// the expected shape
func NewMalformedRequestError(reason string, err error) *AppError {
	return Wrap(err, ErrCodeInvalidInput, "malformed request").
		WithContext("reason", reason).
		WithUserMessage(fmt.Sprintf("Malformed request: %s", reason))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewStoreError wraps a key-value store failure
func NewStoreError(operation, key string, err error) *AppError {
	appErr := WrapRetryable(err, ErrCodeStoreUnavailable, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Store operation failed")
	if key != "" {
		appErr = appErr.WithContext("key", key)
	}
	return appErr
}

// NewCorruptValueError marks a stored value that exists but cannot be
// read back. It is not retryable; the entry stays unreadable until it is
// deleted or expires.
func NewCorruptValueError(key string, err error) *AppError {
	return Wrap(err, ErrCodeStoreCorrupt, "stored value is unreadable").
		WithContext("key", key).
		WithUserMessage("Stored value is unreadable")
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// publicContextKeys lists the context entries safe to echo back to callers
var publicContextKeys = map[string]bool{
	"field":  true,
	"reason": true,
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := AsAppError(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)

	publicContext := make(map[string]interface{})
	for k, v := range appErr.Context {
		if publicContextKeys[k] {
			publicContext[k] = v
		}
	}
	if len(publicContext) > 0 {
		response.Error.Context = publicContext
	}

	return response
}

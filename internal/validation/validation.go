package validation

import (
	"fmt"
	"strconv"
	"strings"

	"kvrelay/internal/constants"
	"kvrelay/internal/errors"
)

// ValidateMessageID checks a message id before it becomes part of a queue
// key. Any non-empty id without a NUL byte is accepted.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if strings.ContainsRune(messageID, '\x00') {
		return errors.New(errors.ErrCodeInvalidInput, "message ID contains a NUL byte")
	}

	return nil
}

// ValidatePullLimit parses the limit query parameter. It must be a whole
// number of at least 1; clamping to the maximum happens later.
func ValidatePullLimit(raw string) (int, error) {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.NewValidationError("limit", raw, "must be a positive integer")
	}
	return limit, nil
}

// ValidateAckBatch bounds the number of ids in one ack request
func ValidateAckBatch(messageIDs []string) error {
	if len(messageIDs) > constants.MaxAckBatchSize {
		return errors.NewValidationError("messageIds", strconv.Itoa(len(messageIDs)),
			fmt.Sprintf("at most %d ids per request", constants.MaxAckBatchSize))
	}
	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

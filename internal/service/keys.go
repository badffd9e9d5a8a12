package service

import (
	"fmt"
	"strconv"
	"strings"

	"kvrelay/internal/constants"
)

// MessageKey builds the composite store key for a message. receivedAt is
// zero-padded to a fixed width so byte-wise key order matches arrival
// order for every non-negative timestamp.
func MessageKey(receivedAt int64, messageID string) string {
	return fmt.Sprintf("%s%0*d:%s", constants.MessageKeyPrefix, constants.MessageKeyTimestampWidth, receivedAt, messageID)
}

// ParseMessageKey splits a composite key back into its parts. The message
// id may itself contain ':'.
func ParseMessageKey(key string) (receivedAt int64, messageID string, err error) {
	rest, ok := strings.CutPrefix(key, constants.MessageKeyPrefix)
	if !ok {
		return 0, "", fmt.Errorf("key %q does not have prefix %q", key, constants.MessageKeyPrefix)
	}

	ts, id, ok := strings.Cut(rest, ":")
	if !ok || len(ts) != constants.MessageKeyTimestampWidth {
		return 0, "", fmt.Errorf("key %q is not a message key", key)
	}

	receivedAt, err = strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("key %q has invalid timestamp: %w", key, err)
	}
	return receivedAt, id, nil
}

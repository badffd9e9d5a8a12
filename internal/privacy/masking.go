package privacy

import (
	"strings"

	"kvrelay/internal/constants"
)

// MaskMessageID masks an upstream message identifier, keeping the tail
// so log lines can still be correlated with consumer-side records.
// Example: "325708123456789" -> "***********6789"
func MaskMessageID(messageID string) string {
	return maskString(messageID, constants.DefaultMessageIDVisible)
}

// MaskUserID masks a sender identifier.
// Example: "U4af4980629abcdef" -> "*************cdef"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultUserIDVisible)
}

// MaskKey masks the identifier part of a composite queue key while keeping
// the prefix and timestamp readable.
// Example: "msg:00000000000000000100:m12345" -> "msg:00000000000000000100:**2345"
func MaskKey(key string) string {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return maskString(key, constants.DefaultMessageIDVisible)
	}
	return key[:idx+1] + MaskMessageID(key[idx+1:])
}

// MaskToken hides a secret entirely
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "[REDACTED]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "message_id", "messageId":
			masked[k] = MaskMessageID(s)
		case "user_id", "userId":
			masked[k] = MaskUserID(s)
		case "key":
			masked[k] = MaskKey(s)
		case "authorization", "token", "signature", "secret":
			masked[k] = MaskToken(s)
		default:
			masked[k] = v
		}
	}

	return masked
}

package middleware

import (
	"net/http"
	"strings"

	"kvrelay/internal/constants"
	"kvrelay/internal/privacy"
	"kvrelay/internal/service"
	"kvrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls request header logging. Bodies are never
// logged since they carry user message text.
type DetailedLoggingConfig struct {
	SensitiveHeaders []string
	SkipEndpoints    []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		SensitiveHeaders: []string{
			constants.AuthorizationHeader,
			constants.SignatureHeader,
			"Cookie",
			"X-Api-Key",
		},
		SkipEndpoints: []string{"/health"},
	}
}

// DetailedLoggingMiddleware logs request headers at debug level with
// credentials masked. It is a no-op unless the logger is at debug.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || isSkipped(r.URL.Path, config.SkipEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			headers := make(map[string]string, len(r.Header))
			for name, values := range r.Header {
				if isSensitiveHeader(name, config.SensitiveHeaders) {
					headers[name] = privacy.MaskToken(strings.Join(values, ", "))
				} else {
					headers[name] = strings.Join(values, ", ")
				}
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				"query":                   r.URL.RawQuery,
				"content_length":          r.ContentLength,
				"protocol":                r.Proto,
				"request_headers":         headers,
			}).Debug("Detailed request logging")

			next.ServeHTTP(w, r)
		})
	}
}

func isSkipped(path string, skip []string) bool {
	for _, s := range skip {
		if path == s {
			return true
		}
	}
	return false
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

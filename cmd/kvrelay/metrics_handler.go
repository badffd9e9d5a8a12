package main

import (
	"encoding/json"
	"net/http"

	"kvrelay/internal/errors"
	"kvrelay/internal/metrics"
	"kvrelay/internal/service"
	"kvrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns the in-process metrics snapshot
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())
		fields := logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			service.LogFieldTraceID:   requestInfo.TraceID,
			service.LogFieldEndpoint:  "/metrics",
		}

		if !checkBearer(r, s.auth.PullToken) {
			s.writeError(w, r, errors.NewAuthError("invalid bearer token"))
			return
		}

		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("Failed to encode metrics response")
			return
		}

		s.logger.WithFields(fields).Debug("Metrics endpoint served")
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"kvrelay/internal/constants"
	"kvrelay/internal/errors"
	"kvrelay/internal/middleware"
	"kvrelay/internal/models"
	"kvrelay/internal/service"
	"kvrelay/internal/tracing"
	"kvrelay/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router      *mux.Router
	logger      *logrus.Logger
	errLogger   *errors.Logger
	relay       service.RelayService
	auth        models.AuthConfig
	cfg         models.ServerConfig
	middlewares []mux.MiddlewareFunc
	server      *http.Server
}

func NewServer(cfg *models.Config, relay service.RelayService, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		errLogger: errors.NewLogger(logger),
		relay:     relay,
		auth:      cfg.Auth,
		cfg:       cfg.Server,
		middlewares: []mux.MiddlewareFunc{
			middleware.ObservabilityMiddleware(logger, middleware.Options{TrustProxyHeaders: cfg.Server.TrustProxyHeaders}),
			middleware.DetailedLoggingMiddleware(logger, middleware.DefaultDetailedLoggingConfig()),
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.middlewares...)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	s.router.HandleFunc("/webhook", s.handleWebhook()).Methods(http.MethodPost)
	s.router.HandleFunc("/pull", s.handlePull()).Methods(http.MethodGet)
	s.router.HandleFunc("/ack", s.handleAck()).Methods(http.MethodPost)

	// mux only runs Use middleware on matched routes. A known path with the
	// wrong method is reported as not found too.
	s.router.NotFoundHandler = s.withMiddleware(s.handleNotFound())
	s.router.MethodNotAllowedHandler = s.withMiddleware(s.handleNotFound())
}

func (s *Server) withMiddleware(h http.Handler) http.Handler {
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	return h
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errors.NewNotFoundError("route", r.Method+" "+r.URL.Path))
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes))
		if err != nil {
			s.writeError(w, r, bodyReadError(err))
			return
		}

		if !verifySignature(s.auth.WebhookSecret, r.Header.Get(constants.SignatureHeader), body) {
			s.writeError(w, r, errors.NewAuthError("signature mismatch"))
			return
		}

		result, err := s.relay.Ingest(r.Context(), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.requestLogger(r).WithFields(logrus.Fields{
			service.LogFieldCount:   result.Received,
			service.LogFieldQueued:  result.Queued,
			service.LogFieldSkipped: result.Skipped,
		}).Debug("Webhook accepted")

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handlePull() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkBearer(r, s.auth.PullToken) {
			s.writeError(w, r, errors.NewAuthError("invalid bearer token"))
			return
		}

		limit, err := parseLimit(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		messages, err := s.relay.Pull(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if messages == nil {
			messages = []models.QueuedMessage{}
		}

		s.writeJSON(w, r, http.StatusOK, models.PullResponse{Messages: messages})
	}
}

func (s *Server) handleAck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkBearer(r, s.auth.PullToken) {
			s.writeError(w, r, errors.NewAuthError("invalid bearer token"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxAckBodyBytes))
		if err != nil {
			s.writeError(w, r, bodyReadError(err))
			return
		}

		ids, err := parseAckRequest(body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		deleted, err := s.relay.Ack(r.Context(), ids)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, r, http.StatusOK, models.AckResponse{Deleted: deleted})
	}
}

// parseLimit reads the optional limit query parameter. Absent means zero,
// which the relay replaces with its default.
func parseLimit(r *http.Request) (int, error) {
	query := r.URL.Query()
	if !query.Has("limit") {
		return 0, nil
	}

	return validation.ValidatePullLimit(query.Get("limit"))
}

// parseAckRequest requires messageIds to be a JSON array of strings
func parseAckRequest(body []byte) ([]string, error) {
	var envelope struct {
		MessageIDs json.RawMessage `json:"messageIds"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.NewMalformedRequestError("body must be a JSON object", err)
	}

	raw := bytes.TrimSpace(envelope.MessageIDs)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.NewMalformedRequestError("messageIds must be an array", nil)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errors.NewMalformedRequestError("messageIds must contain only strings", err)
	}

	if err := validation.ValidateAckBatch(ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func bodyReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewMalformedRequestError("body too large", err)
	}
	return errors.NewMalformedRequestError("unreadable body", err)
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	info := tracing.GetRequestInfo(r.Context())
	return s.logger.WithFields(logrus.Fields{
		service.LogFieldRequestID: info.RequestID,
		service.LogFieldTraceID:   info.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldURL:       r.URL.Path,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.requestLogger(r).WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := errors.HTTPStatusCode(err)

	s.errLogger.LogByStatus(err, "Request failed", logrus.Fields{
		service.LogFieldRequestID:  requestID,
		service.LogFieldMethod:     r.Method,
		service.LogFieldURL:        r.URL.Path,
		service.LogFieldStatusCode: status,
	})

	s.writeJSON(w, r, status, errors.ToHTTPResponse(err, requestID))
}

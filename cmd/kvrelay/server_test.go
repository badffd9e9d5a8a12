package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kvrelay/internal/errors"
	"kvrelay/internal/kv"
	"kvrelay/internal/models"
	"kvrelay/internal/service"
	"kvrelay/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "webhook-secret"
	testPullToken     = "pull-token"
)

type MockRelayService struct {
	mock.Mock
}

func (m *MockRelayService) Ingest(ctx context.Context, body []byte) (service.IngestResult, error) {
	args := m.Called(ctx, body)
	return args.Get(0).(service.IngestResult), args.Error(1)
}

func (m *MockRelayService) Pull(ctx context.Context, limit int) ([]models.QueuedMessage, error) {
	args := m.Called(ctx, limit)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]models.QueuedMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRelayService) Ack(ctx context.Context, messageIDs []string) (int, error) {
	args := m.Called(ctx, messageIDs)
	return args.Int(0), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(queue models.QueueConfig) *models.Config {
	return &models.Config{
		Server: models.ServerConfig{Port: 8082},
		Queue:  queue,
		Auth:   models.AuthConfig{WebhookSecret: testWebhookSecret, PullToken: testPullToken},
	}
}

func newMemoryServer(t *testing.T, queue models.QueueConfig) (*Server, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := testLogger()
	relay := service.NewRelayService(store, queue, logger)
	return NewServer(testConfig(queue), relay, logger), store
}

func newMockServer(relay *MockRelayService) *Server {
	return NewServer(testConfig(models.QueueConfig{}), relay, testLogger())
}

func textEventsBody(ids ...string) string {
	events := make([]string, 0, len(ids))
	for i, id := range ids {
		events = append(events, fmt.Sprintf(
			`{"type":"message","timestamp":%d,"source":{"type":"user","userId":"U%d"},"message":{"id":%q,"type":"text","text":"hello %s"}}`,
			1000+i, i, id, id))
	}
	return `{"destination":"bot","events":[` + strings.Join(events, ",") + `]}`
}

func signedWebhook(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Signature", computeSignature(testWebhookSecret, []byte(body)))
	return req
}

func authorized(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testPullToken)
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errors.HTTPErrorResponse {
	t.Helper()
	var resp errors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func pullMessages(t *testing.T, s *Server, query string) []models.QueuedMessage {
	t.Helper()
	w := serve(s, authorized(httptest.NewRequest(http.MethodGet, "/pull"+query, nil)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.PullResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Messages
}

func TestServer_HandleHealth(t *testing.T) {
	server, _ := newMemoryServer(t, models.QueueConfig{})

	w := serve(server, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(tracing.RequestIDHeader))
}

func TestServer_RelayRoundTrip(t *testing.T) {
	server, store := newMemoryServer(t, models.QueueConfig{})

	w := serve(server, signedWebhook(textEventsBody("m1")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, 1, store.Len())

	messages := pullMessages(t, server, "")
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].MessageID)
	assert.Equal(t, "U0", messages[0].UserID)
	assert.Equal(t, "hello m1", messages[0].Text)
	assert.Equal(t, int64(1000), messages[0].ReceivedAt)

	req := authorized(httptest.NewRequest(http.MethodPost, "/ack", strings.NewReader(`{"messageIds":["m1"]}`)))
	w = serve(server, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

	w = serve(server, authorized(httptest.NewRequest(http.MethodGet, "/pull", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestServer_Webhook_Rejected(t *testing.T) {
	body := textEventsBody("m1")

	tests := []struct {
		name      string
		signature string
	}{
		{"missing signature", ""},
		{"wrong secret", computeSignature("other-secret", []byte(body))},
		{"signature of another body", computeSignature(testWebhookSecret, []byte(textEventsBody("m2")))},
		{"hex instead of base64", "sha256=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, store := newMemoryServer(t, models.QueueConfig{})

			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set("X-Signature", tt.signature)
			}
			w := serve(server, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, errors.ErrCodeAuthentication, decodeError(t, w).Error.Code)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestServer_Webhook_MalformedBody(t *testing.T) {
	server, store := newMemoryServer(t, models.QueueConfig{})

	w := serve(server, signedWebhook(`{"events": [`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeInvalidInput, decodeError(t, w).Error.Code)
	assert.Equal(t, 0, store.Len())
}

func TestServer_Webhook_SkipsNonText(t *testing.T) {
	server, store := newMemoryServer(t, models.QueueConfig{})

	body := `{"events":[
		{"type":"follow","timestamp":1,"source":{"userId":"U1"}},
		{"type":"message","timestamp":2,"source":{"userId":"U1"},"message":{"id":"img","type":"image"}}
	]}`
	w := serve(server, signedWebhook(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, store.Len())
}

func TestServer_Webhook_StoreUnavailable(t *testing.T) {
	relay := new(MockRelayService)
	relay.On("Ingest", mock.Anything, mock.Anything).
		Return(service.IngestResult{Received: 1}, errors.NewStoreError("put", "msg:x", fmt.Errorf("connection refused")))
	server := newMockServer(relay)

	w := serve(server, signedWebhook(textEventsBody("m1")))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, errors.ErrCodeStoreUnavailable, resp.Error.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, w.Header().Get(tracing.RequestIDHeader), resp.RequestID)
	relay.AssertExpectations(t)
}

func TestServer_Pull_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong token", "Bearer nope"},
		{"lowercase scheme", "bearer " + testPullToken},
		{"no scheme", testPullToken},
		{"token prefix", "Bearer " + testPullToken[:4]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := new(MockRelayService)
			server := newMockServer(relay)

			req := httptest.NewRequest(http.MethodGet, "/pull", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(server, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			relay.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything)
		})
	}
}

func TestServer_Pull_InvalidLimit(t *testing.T) {
	for _, query := range []string{"?limit=0", "?limit=-1", "?limit=abc", "?limit=", "?limit=1.5"} {
		t.Run(query, func(t *testing.T) {
			relay := new(MockRelayService)
			server := newMockServer(relay)

			w := serve(server, authorized(httptest.NewRequest(http.MethodGet, "/pull"+query, nil)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, errors.ErrCodeValidationFailed, resp.Error.Code)
			relay.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything)
		})
	}
}

func TestServer_Pull_LimitPassedThrough(t *testing.T) {
	relay := new(MockRelayService)
	relay.On("Pull", mock.Anything, 0).Return(nil, nil).Once()
	relay.On("Pull", mock.Anything, 7).Return([]models.QueuedMessage{{MessageID: "m1"}}, nil).Once()
	server := newMockServer(relay)

	w := serve(server, authorized(httptest.NewRequest(http.MethodGet, "/pull", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())

	messages := pullMessages(t, server, "?limit=7")
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].MessageID)

	relay.AssertExpectations(t)
}

func TestServer_Pull_ClampsAndOrders(t *testing.T) {
	server, _ := newMemoryServer(t, models.QueueConfig{DefaultPullLimit: 2, MaxPullLimit: 3})

	w := serve(server, signedWebhook(textEventsBody("a", "b", "c", "d")))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"a", "b"}, ids(pullMessages(t, server, "")))
	assert.Equal(t, []string{"a", "b", "c"}, ids(pullMessages(t, server, "?limit=500")))
	assert.Equal(t, []string{"a"}, ids(pullMessages(t, server, "?limit=1")))
}

func TestServer_Pull_StoreUnavailable(t *testing.T) {
	relay := new(MockRelayService)
	relay.On("Pull", mock.Anything, 0).Return(nil, errors.NewStoreError("list", "", fmt.Errorf("timeout")))
	server := newMockServer(relay)

	w := serve(server, authorized(httptest.NewRequest(http.MethodGet, "/pull", nil)))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.ErrCodeStoreUnavailable, decodeError(t, w).Error.Code)
}

func TestServer_Ack_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `messageIds=m1`},
		{"top-level array", `["m1"]`},
		{"missing field", `{}`},
		{"null", `{"messageIds":null}`},
		{"string", `{"messageIds":"m1"}`},
		{"object", `{"messageIds":{"id":"m1"}}`},
		{"numbers", `{"messageIds":[1,2]}`},
		{"mixed", `{"messageIds":["m1",null]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := new(MockRelayService)
			server := newMockServer(relay)

			w := serve(server, authorized(httptest.NewRequest(http.MethodPost, "/ack", strings.NewReader(tt.body))))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			relay.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
		})
	}
}

func TestServer_Ack_Unauthorized(t *testing.T) {
	server, store := newMemoryServer(t, models.QueueConfig{})
	require.Equal(t, http.StatusOK, serve(server, signedWebhook(textEventsBody("m1"))).Code)

	req := httptest.NewRequest(http.MethodPost, "/ack", strings.NewReader(`{"messageIds":["m1"]}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w := serve(server, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, store.Len())
}

func TestServer_Ack_UnknownAndEmpty(t *testing.T) {
	server, store := newMemoryServer(t, models.QueueConfig{})
	require.Equal(t, http.StatusOK, serve(server, signedWebhook(textEventsBody("m1", "m2"))).Code)

	for _, body := range []string{`{"messageIds":[]}`, `{"messageIds":["nope"]}`} {
		w := serve(server, authorized(httptest.NewRequest(http.MethodPost, "/ack", strings.NewReader(body))))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"deleted":0}`, w.Body.String())
	}
	assert.Equal(t, 2, store.Len())

	w := serve(server, authorized(httptest.NewRequest(http.MethodPost, "/ack", strings.NewReader(`{"messageIds":["m2","m2","nope"]}`))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
	assert.Equal(t, []string{"m1"}, ids(pullMessages(t, server, "")))
}

func TestServer_Ack_StoreUnavailable(t *testing.T) {
	relay := new(MockRelayService)
	relay.On("Ack", mock.Anything, []string{"m1"}).Return(0, errors.NewStoreError("list", "", fmt.Errorf("timeout")))
	server := newMockServer(relay)

	w := serve(server, authorized(httptest.NewRequest(http.MethodPost, "/ack", strings.NewReader(`{"messageIds":["m1"]}`))))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	relay.AssertExpectations(t)
}

func TestServer_UnknownRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/unknown"},
		{http.MethodGet, "/webhook"},
		{http.MethodPut, "/webhook"},
		{http.MethodPost, "/pull"},
		{http.MethodDelete, "/pull"},
		{http.MethodGet, "/ack"},
		{http.MethodPost, "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			relay := new(MockRelayService)
			server := newMockServer(relay)

			w := serve(server, authorized(httptest.NewRequest(tt.method, tt.path, nil)))

			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, errors.ErrCodeNotFound, decodeError(t, w).Error.Code)
			assert.NotEmpty(t, w.Header().Get(tracing.RequestIDHeader))
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	server, _ := newMemoryServer(t, models.QueueConfig{})
	require.Equal(t, http.StatusOK, serve(server, signedWebhook(textEventsBody("m1"))).Code)

	w := serve(server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(server, authorized(httptest.NewRequest(http.MethodGet, "/metrics", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot, "counters")
	assert.Contains(t, snapshot, "timers")
}

func TestServer_RequestIDEchoed(t *testing.T) {
	server, _ := newMemoryServer(t, models.QueueConfig{})

	req := httptest.NewRequest(http.MethodGet, "/pull?limit=x", nil)
	req.Header.Set(tracing.RequestIDHeader, "client-abc")
	w := serve(server, authorized(req))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "client-abc", w.Header().Get(tracing.RequestIDHeader))
	assert.Equal(t, "client-abc", decodeError(t, w).RequestID)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	server, _ := newMemoryServer(t, models.QueueConfig{})
	assert.NoError(t, server.Shutdown(context.Background()))
}

func ids(messages []models.QueuedMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.MessageID)
	}
	return out
}

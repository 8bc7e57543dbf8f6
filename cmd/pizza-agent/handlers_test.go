package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/jogardn/pizza-shack/internal/oauth"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

type fakeCompleter struct {
	sessionID string
	envelopes []models.Envelope
	err       error
	userID    string
}

func (f *fakeCompleter) CompleteAuthorization(_ context.Context, _, _ string) (string, []models.Envelope, error) {
	return f.sessionID, f.envelopes, f.err
}

func (f *fakeCompleter) UserID(context.Context, string) string {
	return f.userID
}

type fakeSender struct {
	sent  map[string][]models.Envelope
	bound map[string]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string][]models.Envelope{}, bound: map[string]string{}}
}

func (f *fakeSender) Send(sessionID string, envelope models.Envelope) bool {
	f.sent[sessionID] = append(f.sent[sessionID], envelope)
	return true
}

func (f *fakeSender) Bind(sessionID, userID string) {
	f.bound[sessionID] = userID
}

func callback(t *testing.T, completer *fakeCompleter, sender *fakeSender, query string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback"+query, nil)
	callbackHandler(completer, sender, testLogger()).ServeHTTP(rec, req)
	return rec
}

func TestCallbackDeliversOrderToChat(t *testing.T) {
	completer := &fakeCompleter{
		sessionID: "s1",
		userID:    "alice",
		envelopes: []models.Envelope{
			{Type: models.EnvelopeOrderConfirmation, OrderID: "ORD-1", CorrelationID: "c1"},
			models.AssistantMessage("🎉 **Order Confirmed!** 🎉"),
		},
	}
	sender := newFakeSender()

	rec := callback(t, completer, sender, "?code=abc&state=xyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "window.close()")
	require.Len(t, sender.sent["s1"], 2)
	assert.Equal(t, models.EnvelopeOrderConfirmation, sender.sent["s1"][0].Type)
	assert.Equal(t, "alice", sender.bound["s1"])
}

func TestCallbackRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		completer *fakeCompleter
	}{
		{name: "missing code", query: "?state=xyz", completer: &fakeCompleter{}},
		{name: "declined", query: "?error=access_denied&state=xyz", completer: &fakeCompleter{}},
		{name: "unknown state", query: "?code=abc&state=old", completer: &fakeCompleter{err: oauth.ErrUnknownState}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newFakeSender()
			rec := callback(t, tt.completer, sender, tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sender.sent)
		})
	}
}

func TestCallbackExchangeFailureNotifiesChat(t *testing.T) {
	completer := &fakeCompleter{sessionID: "s1", err: errors.New("token exchange failed")}
	sender := newFakeSender()

	rec := callback(t, completer, sender, "?code=abc&state=xyz")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Len(t, sender.sent["s1"], 1)
	assert.Equal(t, models.EnvelopeError, sender.sent["s1"][0].Type)
	assert.Empty(t, sender.bound)
}

type fakeMenu struct {
	err     error
	breaker *circuitbreaker.CircuitBreaker
}

func (f *fakeMenu) GetMenu(context.Context, models.MenuFilter) ([]models.MenuItem, error) {
	return nil, f.err
}

func (f *fakeMenu) Breaker() *circuitbreaker.CircuitBreaker {
	return f.breaker
}

func TestAllServicesHealthCheck(t *testing.T) {
	logger := testLogger()
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 2, Timeout: time.Minute}, logger)
	breakers.For("cdp")
	api := &fakeMenu{breaker: circuitbreaker.New(circuitbreaker.Config{Name: "pizza-api"}, logger)}

	serve := func() (int, map[string]any) {
		rec := httptest.NewRecorder()
		allServicesHealthCheck(api, breakers, logger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/all", nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := serve()
	assert.Equal(t, http.StatusOK, code)
	breakerMetrics := body["circuit_breakers"].(map[string]any)
	assert.Contains(t, breakerMetrics, "cdp")
	assert.Contains(t, breakerMetrics, "pizza-api")

	api.err = errors.New("connection refused")
	code, body = serve()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	pizzaAPI := body["services"].(map[string]any)["pizza_api"].(map[string]any)
	assert.Equal(t, "unhealthy", pizzaAPI["status"])
	assert.Equal(t, "connection refused", pizzaAPI["error"])
}

func TestResetBreaker(t *testing.T) {
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 1, Timeout: time.Hour}, testLogger())
	cdp := breakers.For("cdp")
	cdp.Execute(func() error { return errors.New("down") })
	require.Equal(t, circuitbreaker.StateOpen, cdp.State())

	router := mux.NewRouter()
	router.HandleFunc("/health/breakers/{name}/reset", resetBreaker(breakers)).Methods(http.MethodPost)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/breakers/cdp/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, cdp.State())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/breakers/missing/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

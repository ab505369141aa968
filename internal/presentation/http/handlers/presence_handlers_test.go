package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/presence-go/internal/application/services"
	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/customer"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/observability/logging"
)

// noopStore satisfies services.Store without touching Redis.
type noopStore struct {
	mu      sync.Mutex
	records map[string]presence.Record
}

func newNoopStore() *noopStore {
	return &noopStore{records: make(map[string]presence.Record)}
}

func (s *noopStore) key(customerID, sessionID string) string { return customerID + ":" + sessionID }

func (s *noopStore) Set(ctx context.Context, record presence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.key(record.CustomerID, record.SessionID)] = record
	return nil
}

func (s *noopStore) Get(ctx context.Context, customerID, sessionID string) (presence.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[s.key(customerID, sessionID)]
	return r, ok, nil
}

func (s *noopStore) Update(ctx context.Context, record presence.Record) error {
	return s.Set(ctx, record)
}

func (s *noopStore) RefreshTTL(ctx context.Context, customerID, sessionID string, newMode presence.SessionMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[s.key(customerID, sessionID)]
	return ok, nil
}

func (s *noopStore) Remove(ctx context.Context, customerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, s.key(customerID, sessionID))
	return nil
}

func (s *noopStore) GetKeyTTL(ctx context.Context, customerID, sessionID string) (time.Duration, error) {
	return -2 * time.Second, nil
}

func (s *noopStore) GetActiveSessions(ctx context.Context, customerID string) ([]string, error) {
	return nil, nil
}

func (s *noopStore) GetActiveCount(ctx context.Context, customerID string) (int, error) {
	return 0, nil
}

func (s *noopStore) SetEMA(ctx context.Context, customerID string, value float64) error { return nil }

func (s *noopStore) GetEMA(ctx context.Context, customerID string) (float64, bool, error) {
	return 0, false, nil
}

func (s *noopStore) MarkLeaveSeen(ctx context.Context, leaveID string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (s *noopStore) SetLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string, ttl time.Duration) error {
	return nil
}

func (s *noopStore) HasLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string) (bool, error) {
	return false, nil
}

// noopResolver satisfies services.DisconnectScheduler.
type noopResolver struct{}

func (noopResolver) Schedule(customerID, sessionID string) {}
func (noopResolver) Cancel(customerID, sessionID string)   {}

func testLogger(t *testing.T) *logging.ChanneledLogger {
	l, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		DefaultLevel:    slog.LevelError,
		ChannelLevels:   make(map[logging.Channel]slog.Level),
	})
	require.NoError(t, err)
	return l
}

func TestPostJoinRejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := services.NewPresenceService(newNoopStore(), noopResolver{}, customer.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewPresenceHandlers(svc, testLogger(t))

	router := gin.New()
	router.POST("/presence/join", h.PostJoin)

	body := []byte(`{"sessionId": "sess_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/presence/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostJoinAcceptsValidRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := services.NewPresenceService(newNoopStore(), noopResolver{}, customer.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewPresenceHandlers(svc, testLogger(t))

	router := gin.New()
	router.POST("/presence/join", h.PostJoin)

	body := []byte(`{"customerId": "acme", "sessionId": "sess_1", "tabId": "tab_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/presence/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestPostLeaveUnparseableBodyReturnsNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := services.NewPresenceService(newNoopStore(), noopResolver{}, customer.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewPresenceHandlers(svc, testLogger(t))

	router := gin.New()
	router.POST("/presence/leave", h.PostLeave)

	req := httptest.NewRequest(http.MethodPost, "/presence/leave", bytes.NewReader([]byte("not json at all")))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wallet-inspector/internal/errors"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/service"
	"github.com/wallet-inspector/internal/storage"
	"github.com/wallet-inspector/internal/types"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

type mockInspector struct {
	mu       sync.Mutex
	requests []service.InspectRequest
	err      error
}

func (m *mockInspector) Inspect(ctx context.Context, req service.InspectRequest) (*types.WalletSummary, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return &types.WalletSummary{
		RunID:  "run-1",
		Wallet: "0x00000000000000000000000000000000000000AA",
		Tokens: []types.TokenBalance{},
		Digest: types.NarrativeDigest{
			HoldingsText:       "ETH: 1.000000",
			RecentActivityText: service.NoRecentActivityText,
			Questions:          service.NarrativeQuestions(),
		},
		Errors: []types.InspectionIssue{},
	}, nil
}

func (m *mockInspector) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:                  "127.0.0.1",
		Port:                  "0",
		ClientRPS:             100,
		DefaultLookbackBlocks: 20000,
		DefaultMaxEvents:      200,
	}
}

func newTestServer(inspector InspectorInterface, cache *storage.SummaryCache) *Server {
	return NewServer(testServerConfig(), inspector, cache, prometheus.NewRegistry(), logging.Discard())
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&mockInspector{}, nil)

	rec := doGet(t, s, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleGetSummary(t *testing.T) {
	inspector := &mockInspector{}
	s := newTestServer(inspector, nil)

	rec := doGet(t, s, "/api/wallets/"+testWallet+"/summary?lookback_blocks=500&max_events=3")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var summary types.WalletSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "ETH: 1.000000", summary.Digest.HoldingsText)

	require.Equal(t, 1, inspector.calls())
	got := inspector.requests[0]
	assert.Equal(t, testWallet, got.Wallet)
	require.NotNil(t, got.LookbackBlocks)
	assert.Equal(t, uint64(500), *got.LookbackBlocks)
	require.NotNil(t, got.MaxEvents)
	assert.Equal(t, 3, *got.MaxEvents)
}

func TestHandleGetSummary_DefaultsLeftToService(t *testing.T) {
	inspector := &mockInspector{}
	s := newTestServer(inspector, nil)

	rec := doGet(t, s, "/api/wallets/"+testWallet+"/summary")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, inspector.calls())
	assert.Nil(t, inspector.requests[0].LookbackBlocks)
	assert.Nil(t, inspector.requests[0].MaxEvents)
}

func TestHandleGetSummary_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"short address", "/api/wallets/0x123/summary", ErrCodeInvalidAddress},
		{"bad checksum", "/api/wallets/0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed/summary", ErrCodeInvalidAddress},
		{"negative lookback", "/api/wallets/" + testWallet + "/summary?lookback_blocks=-1", ErrCodeInvalidParameter},
		{"non numeric max events", "/api/wallets/" + testWallet + "/summary?max_events=lots", ErrCodeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inspector := &mockInspector{}
			s := newTestServer(inspector, nil)

			rec := doGet(t, s, tt.path)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Zero(t, inspector.calls())
		})
	}
}

func TestHandleGetSummary_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "negative max events rejected by service",
			err:        apperrors.NewInvalidParameterError("max_events", "must not be negative"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeInvalidParameter,
		},
		{
			name:       "inspector busy",
			err:        apperrors.NewServiceUnavailableError("inspector"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   ErrCodeServiceUnavailable,
		},
		{
			name:       "unexpected error is not echoed",
			err:        errors.New("dial tcp 10.0.0.1: secret detail"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternalError,
			wantMsg:    "An internal error occurred",
		},
		{
			name:       "client went away",
			err:        context.Canceled,
			wantStatus: 499,
			wantCode:   ErrCodeRequestCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockInspector{err: tt.err}, nil)

			rec := doGet(t, s, "/api/wallets/"+testWallet+"/summary")

			assert.Equal(t, tt.wantStatus, rec.Code)
			svcErr := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, svcErr.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, svcErr.Message)
			}
			assert.NotContains(t, rec.Body.String(), "secret")
		})
	}
}

func TestHandleGetNarrative(t *testing.T) {
	s := newTestServer(&mockInspector{}, nil)

	rec := doGet(t, s, "/api/wallets/"+testWallet+"/narrative")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID  string                `json:"run_id"`
		Wallet string                `json:"wallet"`
		Digest types.NarrativeDigest `json:"summary_for_claude"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, service.NoRecentActivityText, body.Digest.RecentActivityText)
	assert.Len(t, body.Digest.Questions, 3)
}

func TestSummaryCaching(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := storage.NewSummaryCache(storage.NewRedisCacheFromClient(client), time.Minute)

	inspector := &mockInspector{}
	s := newTestServer(inspector, cache)

	first := doGet(t, s, "/api/wallets/"+testWallet+"/summary")
	require.Equal(t, http.StatusOK, first.Code)

	// Explicit defaults resolve to the same entry
	second := doGet(t, s, "/api/wallets/"+testWallet+"/summary?lookback_blocks=20000&max_events=200")
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, inspector.calls())
	assert.True(t, mr.Exists(storage.GenerateCacheKey(testWallet, 20000, 200)))

	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "max-age=60", second.Header().Get("Cache-Control"))

	// Different parameters are a miss
	third := doGet(t, s, "/api/wallets/"+testWallet+"/narrative?max_events=5")
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, 2, inspector.calls())
}

func TestSummaryCaching_UnavailableCacheDoesNotFail(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	cache := storage.NewSummaryCache(storage.NewRedisCacheFromClient(client), time.Minute)
	mr.Close()

	inspector := &mockInspector{}
	s := newTestServer(inspector, cache)

	rec := doGet(t, s, "/api/wallets/"+testWallet+"/summary")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, inspector.calls())
}

func TestSummaryCaching_ErrorsAreNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := storage.NewSummaryCache(storage.NewRedisCacheFromClient(client), time.Minute)

	s := newTestServer(&mockInspector{err: apperrors.NewServiceUnavailableError("inspector")}, cache)

	rec := doGet(t, s, "/api/wallets/"+testWallet+"/summary")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, mr.Keys())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspector_test_total",
		Help: "test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(testServerConfig(), &mockInspector{}, nil, reg, logging.Discard())

	rec := doGet(t, s, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inspector_test_total 1")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.ClientRPS = 1
	s := NewServer(cfg, &mockInspector{}, nil, prometheus.NewRegistry(), logging.Discard())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		statuses = append(statuses, doGet(t, s, "/health").Code)
	}

	// Burst is twice the rate
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	limited := doGet(t, s, "/health")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	svcErr := decodeError(t, limited)
	assert.Equal(t, ErrCodeRateLimitExceeded, svcErr.Code)
	assert.Equal(t, float64(1), svcErr.Details["retryAfter"])

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Client-ID", "someone-else")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompressionMiddleware(t *testing.T) {
	s := newTestServer(&mockInspector{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, rec).Code)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientKey(req))

	req.Header.Set("X-Client-ID", "abc")
	assert.Equal(t, "abc", clientKey(req))
}

func TestHandleGetSummary_AddressWithoutPrefix(t *testing.T) {
	inspector := &mockInspector{}
	s := newTestServer(inspector, nil)

	rec := doGet(t, s, "/api/wallets/"+testWallet[2:]+"/summary")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, inspector.calls())
	assert.Equal(t, testWallet, inspector.requests[0].Wallet)
}

func TestHandleInvalidateSummary(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := storage.NewSummaryCache(storage.NewRedisCacheFromClient(client), time.Minute)

	inspector := &mockInspector{}
	s := newTestServer(inspector, cache)

	require.Equal(t, http.StatusOK, doGet(t, s, "/api/wallets/"+testWallet+"/summary").Code)
	require.Equal(t, http.StatusOK, doGet(t, s, "/api/wallets/"+testWallet+"/summary?max_events=5").Code)
	require.Len(t, mr.Keys(), 2)

	req := httptest.NewRequest(http.MethodDelete, "/api/wallets/"+testWallet+"/summary", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, mr.Keys())

	again := doGet(t, s, "/api/wallets/"+testWallet+"/summary")
	assert.Equal(t, "MISS", again.Header().Get("X-Cache"))
	assert.Equal(t, 3, inspector.calls())
}

func TestHandleInvalidateSummary_CacheDisabled(t *testing.T) {
	s := newTestServer(&mockInspector{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/wallets/"+testWallet+"/summary", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeCacheDisabled, decodeError(t, rec).Code)
}

package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
	timeouts []time.Duration
}

func (s *stubChecker) PingDB(_ context.Context, timeout time.Duration) error {
	s.timeouts = append(s.timeouts, timeout)
	return s.dbErr
}

func (s *stubChecker) PingRedis(_ context.Context, timeout time.Duration) error {
	s.timeouts = append(s.timeouts, timeout)
	return s.redisErr
}

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	checker := &stubChecker{}
	code, status := ready(t, health.Handler{Checker: checker, DBTimeout: 50 * time.Millisecond, RedisTimeout: 40 * time.Millisecond})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, status)
	require.Equal(t, []time.Duration{50 * time.Millisecond, 40 * time.Millisecond}, checker.timeouts)
}

func TestReadyDefaultsTimeouts(t *testing.T) {
	checker := &stubChecker{}
	code, _ := ready(t, health.Handler{Checker: checker})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 300 * time.Millisecond}, checker.timeouts)
}

func TestReadyFailure(t *testing.T) {
	code, status := ready(t, health.Handler{Checker: &stubChecker{dbErr: errors.New("db down")}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "db down", status["db"])
	require.Equal(t, "ok", status["redis"])
}

func TestReadyWithoutChecker(t *testing.T) {
	code, status := ready(t, health.Handler{})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "dependencies unavailable", status["status"])
}

package obs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("toko", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments/btcpay", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/payments/btcpay"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/payments/btcpay", "204")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("toko", nil, registry)
	second := obs.NewHTTPMetrics("toko", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestRequestLoggerAttachesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	var sawLogger bool
	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := obs.LoggerFrom(r.Context(), zerolog.Nop())
		sawLogger = l.GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req = req.WithContext(common.WithScope(req.Context(), common.Scope{API: common.APIShop, ChannelID: "ch-1"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.True(t, sawLogger)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "http_request", line["message"])
	require.Equal(t, float64(http.StatusAccepted), line["status"])
	require.Equal(t, "ch-1", line["channel_id"])
}

func TestLoggerFromPrefersFallbackOverDefaultContextLogger(t *testing.T) {
	var global, component bytes.Buffer
	def := zerolog.New(&global)
	prev := zerolog.DefaultContextLogger
	zerolog.DefaultContextLogger = &def
	t.Cleanup(func() { zerolog.DefaultContextLogger = prev })

	logger := obs.LoggerFrom(context.Background(), zerolog.New(&component).With().Str("component", "settlement").Logger())
	logger.Info().Msg("btcpay_settled")

	require.Zero(t, global.Len())
	var line map[string]any
	require.NoError(t, json.Unmarshal(component.Bytes(), &line))
	require.Equal(t, "settlement", line["component"])

	attached := zerolog.New(&global)
	ctxLogger := obs.LoggerFrom(attached.WithContext(context.Background()), zerolog.Nop())
	ctxLogger.Info().Msg("http_request")
	require.NotZero(t, global.Len())
}

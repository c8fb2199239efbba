package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fiestalabs/fiesta/internal/errors"
	"github.com/fiestalabs/fiesta/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// stubExporter points MetricsHandler at transport instead of a live exporter.
func stubExporter(t *testing.T, transport roundTripFunc) {
	t.Helper()
	originalClient := metricsProxyClient
	metricsProxyClient = &http.Client{Transport: transport}
	observability.PrometheusExporter = exporters.NewPrometheusExporter("test", ":9090")
	t.Cleanup(func() {
		metricsProxyClient = originalClient
		observability.PrometheusExporter = nil
	})
}

func scrapeMetrics(t *testing.T) (*httptest.ResponseRecorder, apperrors.HTTPErrorResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	var body apperrors.HTTPErrorResponse
	if rec.Code >= http.StatusBadRequest {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	}
	return rec, body
}

func TestMetricsHandlerProxiesExporter(t *testing.T) {
	stubExporter(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "/metrics", req.URL.Path)
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("fiesta_rate_limit_decisions_total{decision=\"allowed\"} 3\n")),
			Header:     make(http.Header),
		}
		resp.Header.Set("Connection", "close")
		return resp, nil
	})

	rec, _ := scrapeMetrics(t)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; version=0.0.4", rec.Header().Get("Content-Type"))
	require.Empty(t, rec.Header().Get("Connection"))
	require.Contains(t, rec.Body.String(), "fiesta_rate_limit_decisions_total")
}

func TestMetricsHandlerWithoutExporter(t *testing.T) {
	observability.PrometheusExporter = nil

	rec, body := scrapeMetrics(t)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
}

func TestMetricsHandlerExporterUnreachable(t *testing.T) {
	stubExporter(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	rec, body := scrapeMetrics(t)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "EXTERNAL_SERVICE_ERROR", body.Error.Code)
}

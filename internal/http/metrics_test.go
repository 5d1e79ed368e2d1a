package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, target := range []string{"/api/v1/sessions/a", "/api/v1/sessions/b", "/api/v1/sessions/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests *metricdata.Sum[int64]
	var durations *metricdata.Histogram[float64]
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "implflow.http.requests_total":
				sum := md.Data.(metricdata.Sum[int64])
				requests = &sum
			case "implflow.http.request_duration_seconds":
				hist := md.Data.(metricdata.Histogram[float64])
				durations = &hist
			}
		}
	}
	require.NotNil(t, requests, "requests counter not found")
	require.NotNil(t, durations, "duration histogram not found")

	byStatus := map[int64]int64{}
	for _, dp := range requests.DataPoints {
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		assert.Equal(t, "/api/v1/sessions/:id", endpoint.AsString(), "session ids are not label values")
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsInt64()] += dp.Value
	}
	assert.Equal(t, map[int64]int64{200: 2, 404: 1}, byStatus)

	var count uint64
	for _, dp := range durations.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/sessions/:id", normalizePath("/api/v1/sessions/:id"))
}

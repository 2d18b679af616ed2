package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *LedgerMetrics
	m.SaleCreated("ok", 2)
	m.SaleCancelled("ok")
	m.StockMoved("out", true)
	m.PromotionApplied("discount")
	m.CashSessionEvent("opened")
	m.CashTransaction("ingress", "manual")
	m.ReceiptJob("enqueue", "ok")
	m.ObserveRequest(http.MethodGet, "/healthz", 200, time.Millisecond)
}

func TestLedgerMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewLedgerMetrics("posledger", reg)
	require.NoError(t, err)

	m.SaleCreated("ok", 1)
	m.SaleCreated("ok", 0)
	m.SaleCreated("rejected", 0)
	m.StockMoved("out", true)
	m.StockMoved("out", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SalesCreated.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SalesCreated.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SaleItemsSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StockMovements.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockClamped))

	_, err = NewLedgerMetrics("posledger", reg)
	assert.Error(t, err, "registering twice on one registry must fail")
}

func TestRequestLoggerWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m, err := NewLedgerMetrics("", reg)
	require.NoError(t, err)

	h := RequestLogger{Logger: newLogger(&buf, "json", "info"), Metrics: m}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("ok"))
		}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/sale_01abc/cancel", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http_request", line["message"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodPost, "/api/v1/sales/:id/cancel", "418")))
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	assert.Equal(t, zerolog.InfoLevel, newLogger(&buf, "", "bogus").GetLevel())
	buf.Reset()
	pretty := newLogger(&buf, "console", "info")
	pretty.Info().Msg("pretty")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewLoggerLeavesGlobalTimeFormat(t *testing.T) {
	previous := zerolog.TimeFieldFormat
	t.Cleanup(func() { zerolog.TimeFieldFormat = previous })
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var buf bytes.Buffer
	_ = newLogger(&buf, "json", "info")
	if zerolog.TimeFieldFormat != zerolog.TimeFormatUnix {
		t.Fatalf("newLogger changed the global time format to %q", zerolog.TimeFieldFormat)
	}
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/sales", routeLabel("/api/v1/sales"))
	assert.Equal(t, "/api/v1/products/:id/stock", routeLabel("/api/v1/products/prod_01h/stock"))
	assert.Equal(t, "/metrics", routeLabel("/metrics"))
}

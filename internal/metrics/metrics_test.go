package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signalbot/internal/breaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWith_FreshRegistry(t *testing.T) {
	// Two constructions on separate registries must not collide.
	NewMetricsWith(prometheus.NewRegistry())
	m := NewMetricsWith(prometheus.NewRegistry())

	m.SignalsTotal.WithLabelValues("BUY", "rsi").Inc()
	m.SignalsTotal.WithLabelValues("BUY", "rsi").Inc()
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BUY", "rsi")); got != 2 {
		t.Errorf("signals = %v, want 2", got)
	}
}

func TestObserveBreaker(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())
	hook := m.ObserveBreaker()

	hook("redis", breaker.StateClosed, breaker.StateOpen)
	hook("redis", breaker.StateOpen, breaker.StateHalfOpen)

	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("redis")); got != 2 {
		t.Errorf("state = %v, want 2 (half-open)", got)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("redis")); got != 1 {
		t.Errorf("trips = %v, want 1", got)
	}
}

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealth_RedisOptional(t *testing.T) {
	h := NewHealthStatus()
	h.SetWSConnected(true)
	h.SetSQLiteOK(true)

	code, body := healthz(t, h)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("without redis: code=%d status=%v", code, body["status"])
	}

	h.SetRedisEnabled(true)
	code, body = healthz(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("redis enabled but down: code=%d status=%v", code, body["status"])
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	h := NewHealthStatus()
	h.SetSQLiteOK(true)
	h.SetBrokerOK(false)

	code, body := healthz(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Errorf("code=%d status=%v", code, body["status"])
	}
}

func TestHealth_BarAge(t *testing.T) {
	now := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	h := NewHealthStatus()
	h.now = func() time.Time { return now }
	h.SetLastBarTime(now.Add(-90 * time.Second))
	h.SetSymbols([]string{"AAPL"})

	_, body := healthz(t, h)
	if body["bar_age"] != "1m30s" {
		t.Errorf("bar_age = %v", body["bar_age"])
	}
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	m.OrdersTotal.WithLabelValues("buy").Inc()

	srv := NewServer(":0", NewHealthStatus(), reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `bot_orders_total{side="buy"} 1`) {
		t.Errorf("metrics output missing order counter:\n%s", rec.Body.String())
	}
}

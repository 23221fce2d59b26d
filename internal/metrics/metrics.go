package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"signalbot/internal/breaker"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal bot.
type Metrics struct {
	BarsReceived  *prometheus.CounterVec // labels: symbol
	BarsRejected  *prometheus.CounterVec // labels: reason
	BarsDropped   *prometheus.CounterVec // labels: stage
	BarCycleDur   prometheus.Histogram
	BarLag        prometheus.Gauge
	WSReconnects  prometheus.Counter
	WSConnected   prometheus.Gauge
	SQLiteBatches prometheus.Counter

	// Signals and orders
	SignalsTotal       *prometheus.CounterVec // labels: action, rule
	OrdersTotal        *prometheus.CounterVec // labels: side
	OrderFailures      prometheus.Counter
	CollaboratorErrors *prometheus.CounterVec // labels: collaborator
	IndicatorsReady    *prometheus.GaugeVec   // labels: symbol
	LastClose          *prometheus.GaugeVec   // labels: symbol
	OpenPositions      prometheus.Gauge
	MarketState        prometheus.Gauge // 0=closed, 1=open

	// Circuit breakers
	CircuitBreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips *prometheus.CounterVec // labels: name
	RedisBufferedWrites prometheus.Counter
	RedisFlushedWrites  prometheus.Counter
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_bars_received_total",
			Help: "Bars received from the market data stream",
		}, []string{"symbol"}),
		BarsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_bars_rejected_total",
			Help: "Bars rejected by the engine (out_of_order, invalid, unknown_symbol)",
		}, []string{"reason"}),
		BarsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_bars_dropped_total",
			Help: "Bars dropped because a downstream channel was full",
		}, []string{"stage"}),
		BarCycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_bar_cycle_duration_seconds",
			Help:    "Time to run one bar cycle (indicators, clock, positions, orders)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_bar_lag_seconds",
			Help: "Lag between bar event time and receipt",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_ws_reconnects_total",
			Help: "Market data stream reconnection attempts",
		}),
		WSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_ws_connected",
			Help: "Market data stream connection state (0=down, 1=up)",
		}),
		SQLiteBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_sqlite_batches_total",
			Help: "Bar batches committed to SQLite",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Trading decisions emitted, by action and rule",
		}, []string{"action", "rule"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders accepted by the broker, by side",
		}, []string{"side"}),
		OrderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_order_failures_total",
			Help: "Orders rejected or failed at submission",
		}),
		CollaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_collaborator_errors_total",
			Help: "Failed calls to external collaborators (clock, positions, orders)",
		}, []string{"collaborator"}),
		IndicatorsReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_indicators_ready",
			Help: "Whether an instrument has produced its first indicator snapshot",
		}, []string{"symbol"}),
		LastClose: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_last_close",
			Help: "Close of the last processed bar",
		}, []string{"symbol"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Instruments with an open long position",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_market_state",
			Help: "Market session state at the last evaluation (0=closed, 1=open)",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_redis_buffered_writes_total",
			Help: "Publishes buffered locally while the Redis breaker was open",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_redis_flushed_writes_total",
			Help: "Buffered publishes flushed after Redis recovered",
		}),
	}

	reg.MustRegister(
		m.BarsReceived,
		m.BarsRejected,
		m.BarsDropped,
		m.BarCycleDur,
		m.BarLag,
		m.WSReconnects,
		m.WSConnected,
		m.SQLiteBatches,
		m.SignalsTotal,
		m.OrdersTotal,
		m.OrderFailures,
		m.CollaboratorErrors,
		m.IndicatorsReady,
		m.LastClose,
		m.OpenPositions,
		m.MarketState,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
	)

	return m
}

// ObserveBreaker returns an OnStateChange hook that tracks a breaker's
// state and trips.
func (m *Metrics) ObserveBreaker() func(name string, from, to breaker.State) {
	return func(name string, from, to breaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.CircuitBreakerTrips.WithLabelValues(name).Inc()
		}
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	BrokerOK       bool      `json:"broker_ok"`
	Symbols        []string  `json:"symbols"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), BrokerOK: true, now: time.Now}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

// SetRedisEnabled marks Redis as configured. A bot without Redis is not
// degraded by its absence.
func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be
// nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisOK := !h.RedisEnabled || h.RedisConnected

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected || !redisOK || !h.SQLiteOK || !h.BrokerOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.WSConnected && !h.BrokerOK {
		overallStatus = "unhealthy"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = h.now().Sub(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		WSConnected     bool     `json:"ws_connected"`
		LastBarTime     string   `json:"last_bar_time"`
		BarAge          string   `json:"bar_age"`
		RedisEnabled    bool     `json:"redis_enabled"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		BrokerOK        bool     `json:"broker_ok"`
		Symbols         []string `json:"symbols"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          h.now().Sub(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BrokerOK:        h.BrokerOK,
		Symbols:         h.Symbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	UniverseSize  prometheus.Gauge
	LastCycleUnix prometheus.Gauge

	// Evaluation pipeline
	PairsEvaluated *prometheus.CounterVec // labels: timeframe
	PairsSkipped   *prometheus.CounterVec // labels: reason
	FetchDuration  prometheus.Histogram
	RetriesTotal   *prometheus.CounterVec // labels: kind

	// Signals
	SignalsTotal *prometheus.CounterVec // labels: label, timeframe
	StaleSignals prometheus.Counter
	HintsPending prometheus.Gauge
	HintsPruned  prometheus.Counter
	SinkErrors   *prometheus.CounterVec // labels: sink

	// Orders
	OrdersTotal *prometheus.CounterVec // labels: status (placed, rejected, error, skipped)

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Dashboard
	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Total scan cycles completed",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Wall time of one scan cycle",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		UniverseSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_universe_size",
			Help: "Symbols scanned in the latest cycle",
		}),
		LastCycleUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_last_cycle_timestamp_seconds",
			Help: "Unix time the latest cycle finished",
		}),

		PairsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_pairs_evaluated_total",
			Help: "Symbol/timeframe pairs run through the detector",
		}, []string{"timeframe"}),
		PairsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_pairs_skipped_total",
			Help: "Symbol/timeframe pairs skipped (by reason)",
		}, []string{"reason"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_fetch_duration_seconds",
			Help:    "Candle fetch latency including retries",
			Buckets: prometheus.DefBuckets,
		}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_retries_total",
			Help: "Exchange request retries (by error kind)",
		}, []string{"kind"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_signals_total",
			Help: "Signals emitted (by label and timeframe)",
		}, []string{"label", "timeframe"}),
		StaleSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_stale_signals_total",
			Help: "Signals dropped by the freshness gate",
		}),
		HintsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_hints_pending",
			Help: "1m hints waiting for a confirmation",
		}),
		HintsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_hints_pruned_total",
			Help: "1m hints expired by the hint TTL",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_sink_errors_total",
			Help: "Signal sink delivery failures (by sink)",
		}, []string{"sink"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_orders_total",
			Help: "Order submissions (by outcome)",
		}, []string{"status"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_redis_buffered_writes_total",
			Help: "Signals buffered locally during Redis circuit breaker open state",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_ws_clients",
			Help: "Connected dashboard websocket clients",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.UniverseSize,
		m.LastCycleUnix,
		m.PairsEvaluated,
		m.PairsSkipped,
		m.FetchDuration,
		m.RetriesTotal,
		m.SignalsTotal,
		m.StaleSignals,
		m.HintsPending,
		m.HintsPruned,
		m.SinkErrors,
		m.OrdersTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleError string    `json:"last_cycle_error"`
	UniverseSize   int       `json:"universe_size"`
	TradingEnabled bool      `json:"trading_enabled"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// StaleAfter marks the scanner degraded when no cycle finished within it.
	StaleAfter time.Duration `json:"-"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		StaleAfter: staleAfter,
		SQLiteOK:   true,
	}
}

// RecordCycle stores the outcome of a finished scan cycle.
func (h *HealthStatus) RecordCycle(at time.Time, universe int, err error) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.UniverseSize = universe
	h.LastCycleError = ""
	if err != nil {
		h.LastCycleError = err.Error()
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetTradingEnabled(v bool) {
	h.mu.Lock()
	h.TradingEnabled = v
	h.mu.Unlock()
}

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

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
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
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency may be nil.
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

	overallStatus := "healthy"
	httpCode := http.StatusOK

	stale := h.StaleAfter > 0 && !h.LastCycleAt.IsZero() && time.Since(h.LastCycleAt) > h.StaleAfter
	if stale || !h.SQLiteOK || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if stale && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		LastCycleError  string  `json:"last_cycle_error,omitempty"`
		UniverseSize    int     `json:"universe_size"`
		TradingEnabled  bool    `json:"trading_enabled"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastCycleError:  h.LastCycleError,
		UniverseSize:    h.UniverseSize,
		TradingEnabled:  h.TradingEnabled,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any routes
// mounted with Handle.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: slog.Default().With("component", "metrics"),
	}
}

// Handle mounts an extra route (dashboard API, websocket) on the server.
// Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

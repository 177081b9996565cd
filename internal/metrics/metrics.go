// Package metrics registers the Prometheus metric set and serves /metrics
// plus /healthz. Health is a separate mutable status record so the probe
// endpoint never touches the hot path.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Ingest
	TicksTotal   prometheus.Counter
	DroppedTicks prometheus.Counter
	WSReconnects prometheus.Counter
	BarsTotal    *prometheus.CounterVec // labels: tf

	// Detection
	CandidatesTotal   prometheus.Counter
	SignalsTotal      *prometheus.CounterVec // labels: side
	VetoesTotal       *prometheus.CounterVec // labels: reason
	DetectorLatency   prometheus.Histogram
	CardsTotal        prometheus.Counter
	MTFTransitions    *prometheus.CounterVec // labels: to
	MTFInvariants     prometheus.Counter
	MicroStaleSeconds prometheus.Gauge

	// Fan-out
	BusDropsTotal *prometheus.CounterVec // labels: topic

	// Sinks
	SQLiteCommitDur    prometheus.Histogram
	RedisBreakerState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips  prometheus.Counter
	RedisBufferedPubs  prometheus.Counter
	BacktestRunsTotal  prometheus.Counter
	BacktestRunSeconds prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_ticks_total",
			Help: "Total price ticks received",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_dropped_ticks_total",
			Help: "Ticks dropped (late or input buffer full)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_ws_reconnects_total",
			Help: "Feed WebSocket reconnection attempts",
		}),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solswing_bars_total",
			Help: "Closed bars emitted by timeframe",
		}, []string{"tf"}),

		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_candidates_total",
			Help: "Stage-1 candidates screened in",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solswing_signals_total",
			Help: "Stage-2 confirmed signals by side",
		}, []string{"side"}),
		VetoesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solswing_vetoes_total",
			Help: "Veto hits by reason",
		}, []string{"reason"}),
		DetectorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solswing_detector_latency_seconds",
			Help:    "Detector processing latency per closed bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		CardsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_scalp_cards_total",
			Help: "Scalp cards composed",
		}),
		MTFTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solswing_mtf_transitions_total",
			Help: "MTF state machine transitions by target phase",
		}, []string{"to"}),
		MTFInvariants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_mtf_invariant_violations_total",
			Help: "Out-of-order state machine events",
		}),
		MicroStaleSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solswing_micro_staleness_seconds",
			Help: "Age of the newest micro snapshot",
		}),

		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solswing_bus_drops_total",
			Help: "Messages evicted from subscriber queues by topic",
		}, []string{"topic"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solswing_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solswing_redis_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_redis_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedPubs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_redis_buffered_publishes_total",
			Help: "Publishes buffered locally while the breaker was open",
		}),
		BacktestRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solswing_backtest_runs_total",
			Help: "Backtest runs completed",
		}),
		BacktestRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solswing_backtest_run_seconds",
			Help:    "Backtest run wall time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.WSReconnects,
		m.BarsTotal,
		m.CandidatesTotal,
		m.SignalsTotal,
		m.VetoesTotal,
		m.DetectorLatency,
		m.CardsTotal,
		m.MTFTransitions,
		m.MTFInvariants,
		m.MicroStaleSeconds,
		m.BusDropsTotal,
		m.SQLiteCommitDur,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisBufferedPubs,
		m.BacktestRunsTotal,
		m.BacktestRunSeconds,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	DetectorOK     bool      `json:"detector_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetDetectorOK(v bool) {
	h.mu.Lock()
	h.DetectorOK = v
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

// CheckSQLite runs a trivial query and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks.
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
	if !h.FeedConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.DetectorOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		DetectorOK      bool    `json:"detector_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		DetectorOK:      h.DetectorOK,
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

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

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

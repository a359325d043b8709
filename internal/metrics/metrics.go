package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec // labels: mode, outcome=ok|skipped|failed
	SecurityDur prometheus.Histogram
	BatchDur    prometheus.Histogram
	LastBatchAt prometheus.Gauge

	SpecEvalDur       *prometheus.HistogramVec // labels: kind
	OutputsTotal      prometheus.Counter
	StateCorruptTotal prometheus.Counter
	RecomputedTotal   prometheus.Counter

	// Redis state cache
	CircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips prometheus.Counter

	// Run triggers
	TriggersTotal *prometheus.CounterVec // labels: result=ok|failed
}

// NewMetrics creates the metrics and registers them on reg
// (prometheus.DefaultRegisterer in the binary, a fresh registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_security_runs_total",
			Help: "Security runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		SecurityDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_security_duration_seconds",
			Help:    "Wall time of one security run (read, compute, write)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_batch_duration_seconds",
			Help:    "Wall time of one batch run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		LastBatchAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_last_batch_timestamp_seconds",
			Help: "Unix time of the last finished batch",
		}),
		SpecEvalDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indengine_spec_eval_duration_seconds",
			Help:    "Indicator evaluation latency per spec",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"kind"}),
		OutputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_outputs_total",
			Help: "Indicator outputs produced",
		}),
		StateCorruptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_state_corrupt_total",
			Help: "Carried states rejected and recomputed from scratch",
		}),
		RecomputedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_specs_recomputed_total",
			Help: "Specs evaluated from the start of the series",
		}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis state cache circuit breaker (0=closed, 1=open, 2=half-open)",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_triggers_total",
			Help: "Run requests consumed from the trigger stream",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.SecurityDur,
		m.BatchDur,
		m.LastBatchAt,
		m.SpecEvalDur,
		m.OutputsTotal,
		m.StateCorruptTotal,
		m.RecomputedTotal,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.TriggersTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`
	PlanSpecs      int  `json:"plan_specs"`

	LastBatchAt     time.Time `json:"last_batch_at"`
	LastBatchFailed int       `json:"last_batch_failed"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPlanSpecs(n int) {
	h.mu.Lock()
	h.PlanSpecs = n
	h.mu.Unlock()
}

// RecordBatch stores the outcome of the latest batch.
func (h *HealthStatus) RecordBatch(at time.Time, failed int) {
	h.mu.Lock()
	h.LastBatchAt = at
	h.LastBatchFailed = failed
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb goredis.UniversalClient) {
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

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb goredis.UniversalClient, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. SQLite is required; Redis only
// degrades the status since states fall back to SQLite.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	switch {
	case !h.SQLiteOK:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case h.RedisEnabled && !h.RedisConnected, h.LastBatchFailed > 0:
		overallStatus = "degraded"
	}

	lastBatch := ""
	if !h.LastBatchAt.IsZero() {
		lastBatch = h.LastBatchAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		PlanSpecs       int     `json:"plan_specs"`
		LastBatchAt     string  `json:"last_batch_at"`
		LastBatchFailed int     `json:"last_batch_failed"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		PlanSpecs:       h.PlanSpecs,
		LastBatchAt:     lastBatch,
		LastBatchFailed: h.LastBatchFailed,
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
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log.Named("metrics"),
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
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

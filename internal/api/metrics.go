package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/brewlogic/internal/brew"
)

// Metrics holds the Prometheus collectors for brewlogic.
//
// Each Metrics owns its registry so servers in tests do not collide on
// the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	faultPauses  *prometheus.CounterVec
	runActive    prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

// NewMetrics creates and registers the brewlogic collectors together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brewlogic_runs_started_total",
				Help: "Recipe runs started",
			},
			[]string{"recipe"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brewlogic_runs_finished_total",
				Help: "Recipe runs finished, by outcome",
			},
			[]string{"recipe", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brewlogic_run_duration_seconds",
				Help:    "Wall time of finished recipe runs",
				Buckets: prometheus.LinearBuckets(30, 60, 15),
			},
			[]string{"recipe", "outcome"},
		),
		faultPauses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brewlogic_fault_pauses_total",
				Help: "Runs paused by an appliance fault",
			},
			[]string{"recipe"},
		),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brewlogic_run_active",
			Help: "1 while a recipe run is in progress",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brewlogic_http_requests_total",
				Help: "HTTP requests served, by route and status",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runDuration,
		m.faultPauses,
		m.runActive,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe updates the run collectors from an executor transition.
func (m *Metrics) Observe(ev brew.Event) {
	st := ev.State
	switch ev.Type {
	case brew.EventStarted:
		m.runsStarted.WithLabelValues(st.RecipeKey).Inc()
		m.runActive.Set(1)
	case brew.EventPaused:
		m.faultPauses.WithLabelValues(st.RecipeKey).Inc()
	case brew.EventCompleted, brew.EventFailed, brew.EventAborted:
		outcome := outcomeLabel(ev.Type)
		m.runsFinished.WithLabelValues(st.RecipeKey, outcome).Inc()
		m.runDuration.WithLabelValues(st.RecipeKey, outcome).Observe(st.UpdatedAt.Sub(st.StartedAt).Seconds())
		m.runActive.Set(0)
	}
}

func outcomeLabel(t brew.EventType) string {
	switch t {
	case brew.EventCompleted:
		return "completed"
	case brew.EventFailed:
		return "failed"
	default:
		return "aborted"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SystemMetrics represents the JSON system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          *MQTTMetrics    `json:"mqtt,omitempty"`
	Brew          brew.RunState   `json:"brew"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystemMetrics returns a JSON overview for admin screens.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Brew: s.brew.RunState(),
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

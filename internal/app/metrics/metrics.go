package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "canvas",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "canvas",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "canvas",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Current number of open websocket connections.",
		},
	)

	wsFramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before application.",
		},
		[]string{"reason"},
	)

	wsBroadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "realtime",
			Name:      "broadcast_messages_total",
			Help:      "Total messages fanned out to room members.",
		},
	)

	opsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "ops",
			Name:      "applied_total",
			Help:      "Operations applied to project state.",
		},
		[]string{"type"},
	)

	opsReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "ops",
			Name:      "replayed_total",
			Help:      "Operations replayed during state reconstruction.",
		},
	)

	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "canvas",
			Subsystem: "outbox",
			Name:      "queue_depth",
			Help:      "Jobs currently queued for persistence.",
		},
	)

	outboxFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "outbox",
			Name:      "failures_total",
			Help:      "Persistence jobs that exhausted all attempts or were dropped.",
		},
		[]string{"reason"},
	)

	snapshotCompactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "snapshot",
			Name:      "compactions_total",
			Help:      "Snapshot compaction runs.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		wsConnections,
		wsFramesDropped,
		wsBroadcasts,
		opsApplied,
		opsReplayed,
		outboxDepth,
		outboxFailures,
		snapshotCompactions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// ConnectionOpened records a websocket connection being established.
func ConnectionOpened() { wsConnections.Inc() }

// ConnectionClosed records a websocket connection going away.
func ConnectionClosed() { wsConnections.Dec() }

// RecordDroppedFrame records an inbound frame rejected before application.
func RecordDroppedFrame(reason string) {
	wsFramesDropped.WithLabelValues(reason).Inc()
}

// RecordBroadcast records messages delivered to room members.
func RecordBroadcast(recipients int) {
	wsBroadcasts.Add(float64(recipients))
}

// RecordOpApplied records an operation applied to project state.
func RecordOpApplied(opType string) {
	opsApplied.WithLabelValues(opType).Inc()
}

// RecordReplayedOps records operations replayed during reconstruction.
func RecordReplayedOps(n int) {
	opsReplayed.Add(float64(n))
}

// SetOutboxDepth records the current persistence queue depth.
func SetOutboxDepth(depth int) {
	outboxDepth.Set(float64(depth))
}

// RecordOutboxFailure records a persistence job lost to errors or overflow.
func RecordOutboxFailure(reason string) {
	outboxFailures.WithLabelValues(reason).Inc()
}

// RecordCompaction records the outcome of a snapshot compaction.
func RecordCompaction(status string) {
	snapshotCompactions.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "projects":
		// Collapse the project id so the label set stays bounded.
		if len(parts) == 1 {
			return "/projects"
		}
		if len(parts) == 2 {
			return "/projects/:project"
		}
		return "/projects/:project/" + parts[2]
	case "workers":
		if len(parts) == 1 {
			return "/workers"
		}
		return "/workers/" + parts[1]
	default:
		return "/" + parts[0]
	}
}

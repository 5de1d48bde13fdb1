package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Scheduler build information.",
		},
		[]string{"version", "commit"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the last readiness check succeeded.",
	})

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_pipeline_runs_total",
			Help: "Scheduling pipeline runs by terminal state.",
		},
		[]string{"terminal"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_tokens_issued_total",
			Help: "Capability tokens issued by scope.",
		},
		[]string{"scope"},
	)

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_token_verifications_total",
			Help: "Capability token verifications by result.",
		},
		[]string{"result"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_audit_write_failures_total",
		Help: "Audit appends that fell back to the log channel.",
	})

	notificationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_notification_seconds",
			Help:    "Notification sink latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			buildInfo, readyGauge,
			pipelineRuns, tokensIssued, tokenVerifications,
			auditWriteFailures, notificationSeconds,
		)
	})
}

// InitBuildInfo sets build_info{version,commit} to 1.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// PipelineFinished counts a pipeline run that reached the given terminal state.
func PipelineFinished(terminal string) {
	pipelineRuns.WithLabelValues(terminal).Inc()
}

// TokenIssued counts an issued capability token.
func TokenIssued(scope string) {
	tokensIssued.WithLabelValues(scope).Inc()
}

// TokenVerified counts a verification; result is "ok" or the rejection reason.
func TokenVerified(result string) {
	tokenVerifications.WithLabelValues(result).Inc()
}

// AuditWriteFailed counts an audit append that could not reach its store.
func AuditWriteFailed() {
	auditWriteFailures.Inc()
}

// ObserveNotification records sink latency; result is "sent" or "failed".
func ObserveNotification(result string, d time.Duration) {
	notificationSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var knownPaths = map[string]struct{}{
	"/":                {},
	"/healthz":         {},
	"/readyz":          {},
	"/metrics":         {},
	"/v1/info":         {},
	"/v1/schedule":     {},
	"/v1/audit":        {},
	"/v1/audit/stream": {},
}

// CanonicalPath maps a request path onto a bounded label set.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// statusWriter captures the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"agentsched.org/internal/audit"
	"agentsched.org/internal/obs"
	"agentsched.org/internal/orchestrator"
	"agentsched.org/internal/stream"
)

const serviceName = "agentsched"

// ReadyProbe checks backing services before the process reports ready.
type ReadyProbe struct {
	DB *sql.DB
	// Checks run after the database ping.
	Checks []func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for _, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Scheduler runs one request through the pipeline.
type Scheduler interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Response
}

// AuditReader serves audit queries.
type AuditReader interface {
	Query(ctx context.Context, limit int, f audit.Filter) ([]audit.Entry, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	Version      string
	Ready        readinessChecker
	RateRPS      float64
	RateBurst    int
	MaxBodyBytes int64
	CORSOrigins  []string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	cfg       Config
	scheduler Scheduler
	audit     AuditReader
	stream    *stream.Stream
	started   time.Time
}

// New registers every route. stream may be nil, which disables /v1/audit/stream.
func New(cfg Config, sched Scheduler, log AuditReader, st *stream.Stream) *API {
	if cfg.Ready == nil {
		cfg.Ready = ReadyProbe{}
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 40
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		scheduler: sched,
		audit:     log,
		stream:    st,
		started:   time.Now().UTC(),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/v1/schedule", a.handleSchedule)
	a.mux.HandleFunc("/v1/audit", a.handleAudit)
	a.mux.HandleFunc("/v1/audit/stream", a.Stream)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = withCaller(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = RateLimit(h, a.cfg.RateBurst, a.cfg.RateRPS)
	h = CORS(h, a.cfg.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"started": a.started.Format(time.RFC3339),
		"version": a.cfg.Version,
	}
	if a.stream != nil {
		info["stream_subscribers"] = a.stream.Subscribers()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentsched.org/internal/ids"
	"agentsched.org/internal/obs"
)

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Publisher receives every entry after it has been appended.
type Publisher interface {
	Publish(Entry)
}

// Log serializes appends to a Store and assigns sequence numbers.
type Log struct {
	mu    sync.Mutex
	store Store
	seq   uint64
	now   func() time.Time
	pub   Publisher
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source used to stamp entries.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithPublisher fans appended entries out to p.
func WithPublisher(p Publisher) Option {
	return func(l *Log) { l.pub = p }
}

// New opens a Log on store, continuing after the store's last sequence number.
func New(ctx context.Context, store Store, opts ...Option) (*Log, error) {
	last, err := store.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: load last sequence: %w", err)
	}
	l := &Log{store: store, seq: last, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append records e and returns it with Seq, ID and At filled in. A store
// failure is written to the fallback log channel and does not reach the caller.
func (l *Log) Append(ctx context.Context, e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.Seq = l.seq
	e.At = l.now().UTC()
	e.ID = ids.Prefixed(ids.PrefixAudit, e.At)
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}

	if err := l.store.Append(ctx, e); err != nil {
		fallback(e, err)
	}
	if l.pub != nil {
		l.pub.Publish(e)
	}
	return e
}

// Query returns up to limit entries matching f, most recent first. limit <= 0
// selects DefaultLimit; larger values are capped at MaxLimit.
func (l *Log) Query(ctx context.Context, limit int, f Filter) ([]Entry, error) {
	return l.store.Query(ctx, NormalizeLimit(limit), f)
}

// NormalizeLimit applies the default and maximum query limits.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func fallback(e Entry, err error) {
	obs.AuditWriteFailed()
	obs.LogRequest(map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"type":       "audit_fallback",
		"level":      obs.LevelError,
		"error":      fmt.Sprintf("%s: %v", ErrAuditWriteFailed, err),
		"seq":        e.Seq,
		"id":         e.ID,
		"at":         e.At.Format(time.RFC3339Nano),
		"request_id": e.RequestID,
		"actor":      e.Actor,
		"action":     e.Action,
		"event_id":   e.EventID,
		"outcome":    string(e.Outcome),
		"detail":     e.Detail,
	})
}

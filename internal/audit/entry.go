// Package audit is the append-only record of agent decisions.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrAuditWriteFailed is recorded when an entry could not reach its store.
// It is never returned to pipeline callers.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Outcome classifies an audited decision.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeDenied  Outcome = "Denied"
	OutcomeFailed  Outcome = "Failed"
)

// Actions recorded by the scheduling pipeline.
const (
	ActionPlan        = "plan"
	ActionIssueToken  = "issue_token"
	ActionVerifyToken = "verify_token"
	ActionNotify      = "notify"
)

// Entry is one immutable audit record. Seq strictly increases in append order.
type Entry struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	EventID   string    `json:"event_id,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Actor     string
	Action    string
	EventID   string
	RequestID string
	Outcome   Outcome
}

// Match reports whether e satisfies every non-empty field of f.
func (f Filter) Match(e Entry) bool {
	return (f.Actor == "" || f.Actor == e.Actor) &&
		(f.Action == "" || f.Action == e.Action) &&
		(f.EventID == "" || f.EventID == e.EventID) &&
		(f.RequestID == "" || f.RequestID == e.RequestID) &&
		(f.Outcome == "" || f.Outcome == e.Outcome)
}

// Store persists entries. Query returns at most limit entries matching f,
// most recent first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, limit int, f Filter) ([]Entry, error)
	LastSeq(ctx context.Context) (uint64, error)
}

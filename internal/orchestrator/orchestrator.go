package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentsched.org/internal/agent"
	"agentsched.org/internal/audit"
	"agentsched.org/internal/auth"
	"agentsched.org/internal/event"
	"agentsched.org/internal/ids"
	"agentsched.org/internal/obs"
	"agentsched.org/internal/sink"
)

// Outcome reported to pipeline callers.
const (
	StatusCreated = "Created"
	StatusFailed  = "Failed"
)

// Request is one scheduling request.
type Request struct {
	UserRequest string `json:"user_request"`
	UserID      string `json:"user_id"`
}

// Response is the caller-visible result of a pipeline run.
type Response struct {
	Status      string        `json:"status"`
	FailedStage State         `json:"failedStage,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Retryable   bool          `json:"retryable,omitempty"`
	EventID     string        `json:"eventId,omitempty"`
	RequestID   string        `json:"requestId"`
	State       State         `json:"state"`
	History     []State       `json:"history"`
	Event       *event.Record `json:"event,omitempty"`
}

// Planner is the planning agent.
type Planner interface {
	Plan(ctx context.Context, text, userID string, ref time.Time) (agent.Plan, error)
}

// Notifier is the notification agent.
type Notifier interface {
	Notify(ctx context.Context, rec event.Record, tok auth.Token) (agent.Delivery, error)
}

// Auditor appends audit entries synchronously.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) audit.Entry
}

// Orchestrator runs requests through Planner then Notifier. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	planner  Planner
	notifier Notifier
	issuer   agent.Issuer
	audit    Auditor
	recorder sink.StatusRecorder
	now      func() time.Time
	ttl      time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the source of reference instants.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithStatusRecorder persists notification status changes.
func WithStatusRecorder(r sink.StatusRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTokenTTL sets the lifetime of messaging tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = ttl }
}

// New wires an Orchestrator.
func New(p Planner, n Notifier, issuer agent.Issuer, log Auditor, opts ...Option) *Orchestrator {
	o := &Orchestrator{planner: p, notifier: n, issuer: issuer, audit: log, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes req using the orchestrator clock as reference instant.
func (o *Orchestrator) Run(ctx context.Context, req Request) Response {
	return o.RunAt(ctx, req, o.now())
}

// RunAt processes req against ref until a terminal state is reached.
func (o *Orchestrator) RunAt(ctx context.Context, req Request, ref time.Time) Response {
	requestID := audit.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = ids.Prefixed(ids.PrefixRequest, time.Now())
		ctx = audit.WithRequestID(ctx, requestID)
	}
	r := &run{o: o, ctx: ctx, state: Received, history: []State{Received}}
	resp := r.execute(strings.TrimSpace(req.UserRequest), strings.TrimSpace(req.UserID), ref)
	resp.RequestID = requestID
	resp.State = r.state
	resp.History = r.history

	obs.PipelineFinished(string(r.state))
	obs.Log(obs.LevelInfo, "pipeline_finished", map[string]any{
		"request_id": requestID,
		"state":      string(r.state),
		"event_id":   resp.EventID,
		"reason":     resp.Reason,
	})
	return resp
}

// run is the state of one pipeline execution.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	state   State
	history []State
}

// transition records entry (when given) and only then moves to the next state.
func (r *run) transition(to State, entry *audit.Entry) {
	if !CanTransition(r.state, to) {
		panic(transitionError{from: r.state, to: to})
	}
	if entry != nil {
		r.o.audit.Append(r.ctx, *entry)
	}
	r.state = to
	r.history = append(r.history, to)
}

func (r *run) execute(text, userID string, ref time.Time) Response {
	r.transition(Planning, nil)

	plan, err := r.o.planner.Plan(r.ctx, text, userID, ref)
	if err != nil {
		c := Classify(err)
		r.transition(PlanFailed, &audit.Entry{
			Actor:   auth.SubjectPlanner,
			Action:  audit.ActionPlan,
			EventID: plan.Record.ID,
			Outcome: c.Outcome,
			Detail:  fmt.Sprintf("%s: %v", c.Kind, err),
		})
		return failed(Planning, c, err, "", nil)
	}
	rec := plan.Record
	r.transition(Planned, &audit.Entry{
		Actor:   auth.SubjectPlanner,
		Action:  audit.ActionPlan,
		EventID: rec.ID,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("%q at %s for %s (calendar.write token %s)", rec.Title, rec.Start.Format(time.RFC3339), rec.Duration, plan.Token.ID),
	})

	tok, err := r.o.issuer.Issue(auth.SubjectOrchestrator, auth.ScopeMessagingSend, auth.SubjectNotifier, rec.UserID, r.o.ttl)
	if err != nil {
		c := Classify(err)
		r.transition(NotifyFailed, &audit.Entry{
			Actor:   auth.SubjectOrchestrator,
			Action:  audit.ActionIssueToken,
			EventID: rec.ID,
			Outcome: c.Outcome,
			Detail:  fmt.Sprintf("%s: %v", c.Kind, err),
		})
		r.setStatus(&rec, event.StatusNotificationFailed)
		return failed(Notifying, c, err, rec.ID, &rec)
	}
	r.transition(Notifying, &audit.Entry{
		Actor:   auth.SubjectOrchestrator,
		Action:  audit.ActionIssueToken,
		EventID: rec.ID,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("messaging.send token %s for %s until %s", tok.ID, rec.UserID, tok.ExpiresAt.Format(time.RFC3339)),
	})

	delivery, err := r.o.notifier.Notify(r.ctx, rec, tok)
	if err == nil {
		err = delivery.Err
	}
	if err != nil {
		c := Classify(err)
		action := audit.ActionNotify
		if c.Outcome == audit.OutcomeDenied {
			action = audit.ActionVerifyToken
		}
		r.transition(NotifyFailed, &audit.Entry{
			Actor:   auth.SubjectNotifier,
			Action:  action,
			EventID: rec.ID,
			Outcome: c.Outcome,
			Detail:  fmt.Sprintf("%s: %v", c.Kind, err),
		})
		r.setStatus(&rec, event.StatusNotificationFailed)
		return failed(Notifying, c, err, rec.ID, &rec)
	}

	r.transition(NotifySent, &audit.Entry{
		Actor:   auth.SubjectNotifier,
		Action:  audit.ActionNotify,
		EventID: rec.ID,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("%s reminder due %s", delivery.Message.Channel, delivery.Message.SendAt.Format(time.RFC3339)),
	})
	r.setStatus(&rec, event.StatusNotificationSent)
	return Response{Status: StatusCreated, EventID: rec.ID, Event: &rec}
}

func (r *run) setStatus(rec *event.Record, status event.Status) {
	rec.Status = status
	if r.o.recorder == nil {
		return
	}
	if err := r.o.recorder.SetStatus(r.ctx, rec.ID, status); err != nil {
		obs.Log(obs.LevelWarn, "event_status_update_failed", map[string]any{
			"event_id": rec.ID,
			"status":   string(status),
			"error":    err,
		})
	}
}

func failed(stage State, c Classification, err error, eventID string, rec *event.Record) Response {
	return Response{
		Status:      StatusFailed,
		FailedStage: stage,
		Reason:      c.Kind,
		Detail:      err.Error(),
		Retryable:   c.Retryable,
		EventID:     eventID,
		Event:       rec,
	}
}

package agent

import (
	"context"
	"fmt"
	"time"

	"agentsched.org/internal/auth"
	"agentsched.org/internal/event"
	"agentsched.org/internal/extract"
	"agentsched.org/internal/sink"
)

// Issuer mints capability tokens.
type Issuer interface {
	Issue(subject string, scope auth.Scope, audience, onBehalfOf string, ttl time.Duration) (auth.Token, error)
}

// Plan is the Planner's successful output.
type Plan struct {
	Intent extract.Intent `json:"intent"`
	Record event.Record   `json:"record"`
	Token  auth.Token     `json:"-"`
}

// Planner turns a request into a stored event record plus its calendar.write token.
type Planner struct {
	extractor *extract.Extractor
	issuer    Issuer
	calendar  sink.Calendar
	conflicts sink.ConflictChecker
	ttl       time.Duration
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithConflictCheck rejects requests whose start collides with an existing event.
func WithConflictCheck(c sink.ConflictChecker) PlannerOption {
	return func(p *Planner) { p.conflicts = c }
}

// WithPlannerTokenTTL sets the lifetime of the calendar.write token.
func WithPlannerTokenTTL(ttl time.Duration) PlannerOption {
	return func(p *Planner) { p.ttl = ttl }
}

// NewPlanner wires the Planner's collaborators.
func NewPlanner(ex *extract.Extractor, issuer Issuer, calendar sink.Calendar, opts ...PlannerOption) *Planner {
	p := &Planner{extractor: ex, issuer: issuer, calendar: calendar}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan extracts, validates, obtains a calendar.write token and stores the
// record. The first failure is returned as a *StageError; no token is issued
// for a request that fails extraction or validation.
func (p *Planner) Plan(ctx context.Context, text, userID string, ref time.Time) (Plan, error) {
	in, err := p.extractor.Extract(text, ref)
	if err != nil {
		return Plan{}, fail(StageExtraction, err)
	}
	rec, err := event.Build(in, userID, ref)
	if err != nil {
		return Plan{Intent: in}, fail(StageValidation, err)
	}
	if p.conflicts != nil {
		taken, err := p.conflicts.HasEventAt(ctx, rec.UserID, rec.Start)
		if err != nil {
			return Plan{Intent: in}, fail(StageValidation, fmt.Errorf("conflict check: %w", err))
		}
		if taken {
			return Plan{Intent: in}, fail(StageValidation, fmt.Errorf("%w: %s", event.ErrConflict, rec.Start.Format(time.RFC3339)))
		}
	}

	tok, err := p.issuer.Issue(auth.SubjectPlanner, auth.ScopeCalendarWrite, auth.SubjectNotifier, rec.UserID, p.ttl)
	if err != nil {
		return Plan{Intent: in, Record: rec}, fail(StageIssuance, err)
	}
	if err := p.calendar.Create(ctx, rec); err != nil {
		return Plan{Intent: in, Record: rec, Token: tok}, fail(StagePersistence, err)
	}
	return Plan{Intent: in, Record: rec, Token: tok}, nil
}

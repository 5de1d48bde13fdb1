package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Scope names the single operation a token authorizes.
type Scope string

const (
	ScopeCalendarWrite Scope = "calendar.write"
	ScopeMessagingSend Scope = "messaging.send"
)

// Scopes lists every scope the service knows about.
var Scopes = []Scope{ScopeCalendarWrite, ScopeMessagingSend}

// Valid reports whether s is one of Scopes.
func (s Scope) Valid() bool {
	for _, known := range Scopes {
		if s == known {
			return true
		}
	}
	return false
}

// Agent identities used as token subjects and audiences.
const (
	SubjectPlanner      = "planner"
	SubjectOrchestrator = "orchestrator"
	SubjectNotifier     = "notifier"
)

// Grant allows Subject to obtain tokens for Scope addressed to Audience.
type Grant struct {
	Subject  string `json:"subject" yaml:"subject"`
	Scope    Scope  `json:"scope" yaml:"scope"`
	Audience string `json:"audience" yaml:"audience"`
}

// DefaultGrants is the least-privilege table the scheduling pipeline needs.
func DefaultGrants() []Grant {
	return []Grant{
		{Subject: SubjectPlanner, Scope: ScopeCalendarWrite, Audience: SubjectNotifier},
		{Subject: SubjectOrchestrator, Scope: ScopeMessagingSend, Audience: SubjectNotifier},
	}
}

// Policy is an immutable set of grants. The zero value allows nothing.
type Policy struct {
	allowed map[string]map[Scope]map[string]struct{}
	grants  []Grant
}

// NewPolicy validates grants and compiles them into a Policy.
func NewPolicy(grants []Grant) (*Policy, error) {
	p := &Policy{allowed: make(map[string]map[Scope]map[string]struct{})}
	for i, g := range grants {
		g.Subject = strings.TrimSpace(g.Subject)
		g.Audience = strings.TrimSpace(g.Audience)
		if g.Subject == "" || g.Audience == "" {
			return nil, fmt.Errorf("%w: grant %d: subject and audience are required", ErrInvalidPolicy, i)
		}
		if !g.Scope.Valid() {
			return nil, fmt.Errorf("%w: grant %d: unknown scope %q", ErrInvalidPolicy, i, g.Scope)
		}
		scopes, ok := p.allowed[g.Subject]
		if !ok {
			scopes = make(map[Scope]map[string]struct{})
			p.allowed[g.Subject] = scopes
		}
		auds, ok := scopes[g.Scope]
		if !ok {
			auds = make(map[string]struct{})
			scopes[g.Scope] = auds
		}
		if _, dup := auds[g.Audience]; dup {
			continue
		}
		auds[g.Audience] = struct{}{}
		p.grants = append(p.grants, g)
	}
	sort.Slice(p.grants, func(i, j int) bool {
		a, b := p.grants[i], p.grants[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return a.Audience < b.Audience
	})
	return p, nil
}

// Allows reports whether the triple is granted.
func (p *Policy) Allows(subject string, scope Scope, audience string) bool {
	if p == nil {
		return false
	}
	_, ok := p.allowed[subject][scope][audience]
	return ok
}

// Grants returns a copy of the compiled grants in a stable order.
func (p *Policy) Grants() []Grant {
	if p == nil {
		return nil
	}
	out := make([]Grant, len(p.grants))
	copy(out, p.grants)
	return out
}

package orchestrator

import (
	"errors"

	"agentsched.org/internal/agent"
	"agentsched.org/internal/audit"
	"agentsched.org/internal/auth"
	"agentsched.org/internal/event"
	"agentsched.org/internal/extract"
)

// Error kinds reported to pipeline callers.
const (
	KindUnparsableRequest  = "UnparsableRequest"
	KindAmbiguousIntent    = "AmbiguousIntent"
	KindInvalidIntent      = "InvalidIntent"
	KindConflict           = "Conflict"
	KindIssuanceDenied     = "IssuanceDenied"
	KindTokenInvalid       = "TokenInvalid"
	KindPrincipalMismatch  = "PrincipalMismatch"
	KindPersistenceFailed  = "PersistenceFailed"
	KindNotificationFailed = "NotificationFailed"
	KindInternal           = "Internal"
)

// Classification describes how a pipeline error is reported and audited.
type Classification struct {
	Kind      string
	Retryable bool
	Outcome   audit.Outcome
}

// Classify maps err onto the error taxonomy.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{Outcome: audit.OutcomeSuccess}
	case errors.Is(err, extract.ErrUnparsableRequest):
		return Classification{Kind: KindUnparsableRequest, Outcome: audit.OutcomeFailed}
	case errors.Is(err, event.ErrAmbiguousIntent):
		return Classification{Kind: KindAmbiguousIntent, Outcome: audit.OutcomeFailed}
	case errors.Is(err, event.ErrConflict):
		return Classification{Kind: KindConflict, Outcome: audit.OutcomeFailed}
	case errors.Is(err, event.ErrStartInPast), errors.Is(err, event.ErrInvalidDuration), errors.Is(err, event.ErrMissingUser),
		errors.Is(err, event.ErrNegativeReminder):
		return Classification{Kind: KindInvalidIntent, Outcome: audit.OutcomeFailed}
	case errors.Is(err, auth.ErrIssuanceDenied):
		return Classification{Kind: KindIssuanceDenied, Outcome: audit.OutcomeDenied}
	case errors.Is(err, auth.ErrInvalidToken):
		return Classification{Kind: KindTokenInvalid, Outcome: audit.OutcomeDenied}
	case errors.Is(err, agent.ErrPrincipalMismatch):
		return Classification{Kind: KindPrincipalMismatch, Outcome: audit.OutcomeDenied}
	case errors.Is(err, agent.ErrNotificationFailed):
		return Classification{Kind: KindNotificationFailed, Retryable: true, Outcome: audit.OutcomeFailed}
	}
	if stage, ok := agent.StageOf(err); ok && stage == agent.StagePersistence {
		return Classification{Kind: KindPersistenceFailed, Retryable: true, Outcome: audit.OutcomeFailed}
	}
	return Classification{Kind: KindInternal, Outcome: audit.OutcomeFailed}
}

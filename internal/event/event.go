// Package event validates extracted intents into canonical calendar records.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agentsched.org/internal/extract"
	"agentsched.org/internal/ids"
)

var (
	ErrAmbiguousIntent  = errors.New("ambiguous intent")
	ErrStartInPast      = errors.New("start time is before the reference instant")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrMissingUser      = errors.New("user id is required")
	ErrNegativeReminder = errors.New("reminder offset must not be negative")
	ErrConflict         = errors.New("an event already starts at that time")
)

// Status is the notification state of an EventRecord.
type Status string

const (
	StatusCreated            Status = "Created"
	StatusNotificationSent   Status = "NotificationSent"
	StatusNotificationFailed Status = "NotificationFailed"
)

// Record is the canonical scheduled event.
type Record struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Duration    time.Duration `json:"duration"`
	Reminder    time.Duration `json:"reminder,omitempty"`
	HasReminder bool          `json:"has_reminder"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      Status        `json:"status"`
}

// RemindAt returns when a notification for the record is due.
func (r Record) RemindAt() time.Time {
	if !r.HasReminder {
		return r.Start
	}
	return r.Start.Add(-r.Reminder)
}

// AmbiguityError carries the reasons an intent was rejected as ambiguous.
type AmbiguityError struct {
	Reasons []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAmbiguousIntent, strings.Join(e.Reasons, ", "))
}

func (e *AmbiguityError) Is(target error) bool { return target == ErrAmbiguousIntent }

// Build validates in against ref and allocates a new record with status Created.
func Build(in extract.Intent, userID string, ref time.Time) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrMissingUser
	}
	if in.Ambiguous {
		return Record{}, &AmbiguityError{Reasons: append([]string(nil), in.Ambiguities...)}
	}
	if in.Start.IsZero() || in.Start.Before(ref) {
		return Record{}, fmt.Errorf("%w: %s", ErrStartInPast, in.Start.Format(time.RFC3339))
	}
	if in.Duration <= 0 {
		return Record{}, ErrInvalidDuration
	}
	if in.HasReminder && in.Reminder < 0 {
		return Record{}, ErrNegativeReminder
	}
	return Record{
		ID:          ids.Prefixed(ids.PrefixEvent, ref),
		UserID:      userID,
		Title:       in.Title,
		Description: "Scheduled from user request: " + in.Raw,
		Start:       in.Start,
		End:         in.Start.Add(in.Duration),
		Duration:    in.Duration,
		Reminder:    in.Reminder,
		HasReminder: in.HasReminder,
		CreatedAt:   ref,
		Status:      StatusCreated,
	}, nil
}

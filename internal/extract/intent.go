// Package extract turns free-form scheduling requests into a structured Intent.
//
// Extraction is a fixed pipeline of typed rules. Each rule claims the parts of
// the text it recognises and contributes a fragment (a date, a clock time, a
// duration, ...). Fragments are merged into an Intent and resolved against a
// caller-supplied reference instant; the wall clock is never read. Conflicting
// fragments do not fail extraction, they mark the Intent as ambiguous and leave
// the decision to the caller.
package extract

import (
	"errors"
	"time"
)

// ErrUnparsableRequest is returned when the text contains no time expression at all.
var ErrUnparsableRequest = errors.New("unparsable request: no time expression found")

// DefaultTitle is used when nothing of the request is left over for a title.
const DefaultTitle = "Event"

// Defaults applied when the request does not say otherwise.
const (
	DefaultDuration  = 30 * time.Minute
	DefaultTimeOfDay = 9 * time.Hour
)

// Intent is the best-effort reading of one request. It is not validated; see
// the event package for that.
type Intent struct {
	Raw       string    `json:"raw"`
	Reference time.Time `json:"reference"`

	Title          string `json:"title"`
	TitleDefaulted bool   `json:"title_defaulted,omitempty"`

	// StartPhrase holds the matched time expressions as written, e.g. "tomorrow at 2 PM".
	StartPhrase   string    `json:"start_phrase"`
	Start         time.Time `json:"start"`
	TimeDefaulted bool      `json:"time_defaulted,omitempty"`
	RolledForward bool      `json:"rolled_forward,omitempty"`

	Duration          time.Duration `json:"duration"`
	DurationDefaulted bool          `json:"duration_defaulted,omitempty"`

	Reminder    time.Duration `json:"reminder,omitempty"`
	HasReminder bool          `json:"has_reminder"`

	Ambiguous   bool     `json:"ambiguous"`
	Ambiguities []string `json:"ambiguities,omitempty"`
}

// End returns Start + Duration.
func (i Intent) End() time.Time {
	return i.Start.Add(i.Duration)
}

func (i *Intent) flag(reason string) {
	i.Ambiguous = true
	for _, r := range i.Ambiguities {
		if r == reason {
			return
		}
	}
	i.Ambiguities = append(i.Ambiguities, reason)
}

// Package agent implements the Planner and Notifier agents.
package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNotificationFailed wraps any sink failure, including timeouts.
	ErrNotificationFailed = errors.New("notification failed")
	// ErrPrincipalMismatch means the token was issued on behalf of another user.
	ErrPrincipalMismatch = errors.New("token principal does not match event owner")
)

// Stage names the Planner step that failed.
type Stage string

const (
	StageExtraction  Stage = "extraction"
	StageValidation  Stage = "validation"
	StageIssuance    Stage = "issuance"
	StagePersistence Stage = "persistence"
)

// StageError tags a Planner failure with the step it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the Planner stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Package orchestrator sequences the Planner and Notifier as a fixed state machine.
package orchestrator

import "fmt"

// State is a pipeline state.
type State string

const (
	Received     State = "Received"
	Planning     State = "Planning"
	Planned      State = "Planned"
	PlanFailed   State = "PlanFailed"
	Notifying    State = "Notifying"
	NotifyFailed State = "NotifyFailed"
	NotifySent   State = "NotifySent"
)

// legal lists the allowed successors of each state. Planned may fail straight
// to NotifyFailed when the messaging token cannot be issued.
var legal = map[State][]State{
	Received:  {Planning},
	Planning:  {Planned, PlanFailed},
	Planned:   {Notifying, NotifyFailed},
	Notifying: {NotifySent, NotifyFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == PlanFailed || s == NotifyFailed || s == NotifySent
}

// CanTransition reports whether from -> to is part of the state machine.
func CanTransition(from, to State) bool {
	for _, next := range legal[from] {
		if next == to {
			return true
		}
	}
	return false
}

type transitionError struct{ from, to State }

func (e transitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.from, e.to)
}

package payment

import "fmt"

// State is a payment session state
type State string

const (
	StateIdle            State = "idle"
	StateIssuing         State = "issuing"
	StateAwaitingPayment State = "awaiting_payment"
	StateVerifying       State = "verifying"
	StateConfirmed       State = "confirmed"
	StateExpired         State = "expired"
	StateIssueFailed     State = "issue_failed"
	StateClosed          State = "closed"
)

var transitions = map[State][]State{
	StateIdle:            {StateIssuing, StateClosed},
	StateIssuing:         {StateAwaitingPayment, StateIssueFailed, StateClosed},
	StateAwaitingPayment: {StateVerifying, StateExpired, StateClosed},
	StateVerifying:       {StateConfirmed, StateClosed},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// TransitionError is returned for a move the table does not allow
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid payment session transition from %s to %s", e.From, e.To)
}

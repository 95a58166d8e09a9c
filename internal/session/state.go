package session

import "fmt"

// State is the session's position in the recording-to-delivery cycle.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateDelivering State = "delivering"
)

// InvalidTransitionError reports a transition attempted from the wrong source
// state. This is a protocol error on the caller's side: fatal to the request,
// harmless to the session.
type InvalidTransitionError struct {
	Op       string
	Expected State
	Actual   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition: expected state %q, session is %q", e.Op, e.Expected, e.Actual)
}

// transitionLocked moves the session from exactly `from` to `to`. The caller
// must hold s.mu. Panic-mute and replay are deliberately not routed through
// here; they have their own guards.
func (s *Session) transitionLocked(op string, from, to State) error {
	if s.state != from {
		return &InvalidTransitionError{Op: op, Expected: from, Actual: s.state}
	}
	s.state = to
	return nil
}

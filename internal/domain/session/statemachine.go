package session

import "fmt"

// transitions maps each state to the set of states it may legally move to.
// Terminal states have no outgoing edges. Aborted is reachable from every
// non-terminal state so a user-initiated abort always succeeds.
var transitions = map[State][]State{
	StateQueued:     {StateStarting, StateAborted},
	StateStarting:   {StateCloning, StateFailed, StateAborted},
	StateCloning:    {StateRunning, StateFailed, StateAborted},
	StateRunning:    {StatePaused, StateCompleting, StateFailed, StateAborted},
	StatePaused:     {StateRunning, StateAborted},
	StateCompleting: {StateCompleted, StateFailed, StateAborted},
	StateCompleted:  nil,
	StateFailed:     nil,
	StateAborted:    nil,
}

// TransitionError reports an attempt to make an illegal state transition.
// It indicates a programming error in the orchestration core, never user input.
type TransitionError struct {
	SessionID string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: illegal transition %s -> %s", e.SessionID, e.From, e.To)
}

// TerminalState reports whether s is a terminal state.
func TerminalState(s State) bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the legal successor states of s.
func NextStates(s State) []State {
	next := transitions[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// Transition moves the session to the given state, or returns a
// *TransitionError if the move is illegal. It mutates only the State field;
// callers persist the record before taking any side effect for the new state.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return &TransitionError{SessionID: s.ID, From: s.State, To: to}
	}
	s.State = to
	return nil
}

func knownState(s State) bool {
	_, ok := transitions[s]
	return ok
}

// Package queue defines the per-target admission record and its pure
// operations. At most one session is active per target at any time; further
// requests wait in a bounded FIFO list.
package queue

// State is the admission record for one target. It is read-modify-written
// through the storage layer's compare-and-swap; the Revision field carries
// the last seen storage revision.
type State struct {
	TargetID        string   `json:"target_id"`
	ActiveSessionID string   `json:"active_session_id,omitempty"`
	Pending         []string `json:"pending,omitempty"`
	Revision        uint64   `json:"-"`
}

// Outcome tags the result of an admission attempt.
type Outcome string

const (
	OutcomeActive   Outcome = "active"   // admitted immediately, session holds the slot
	OutcomeQueued   Outcome = "queued"   // waiting behind the active session
	OutcomeRejected Outcome = "rejected" // pending list at max depth
)

// Admission is the typed result of Admit. Rejection is a value, not an error:
// callers relay it to the requester rather than treating it as a fault.
type Admission struct {
	Outcome  Outcome `json:"outcome"`
	Position int     `json:"position,omitempty"` // 1-based place in the pending list
}

// New returns an empty admission record for the given target.
func New(targetID string) *State {
	return &State{TargetID: targetID}
}

// Admit attempts to admit sessionID. If the active slot is free the session
// takes it; otherwise it joins the pending list unless that would exceed
// maxPending.
func (s *State) Admit(sessionID string, maxPending int) Admission {
	if s.ActiveSessionID == "" {
		s.ActiveSessionID = sessionID
		return Admission{Outcome: OutcomeActive}
	}
	if len(s.Pending) >= maxPending {
		return Admission{Outcome: OutcomeRejected}
	}
	s.Pending = append(s.Pending, sessionID)
	return Admission{Outcome: OutcomeQueued, Position: len(s.Pending)}
}

// Release clears the active slot if sessionID holds it and promotes the head
// of the pending list. Returns the promoted session id and whether one exists.
// Releasing a session that is not active is a no-op (idempotent for crash
// recovery re-runs).
func (s *State) Release(sessionID string) (next string, promoted bool) {
	if s.ActiveSessionID != sessionID {
		return "", false
	}
	s.ActiveSessionID = ""
	if len(s.Pending) == 0 {
		return "", false
	}
	next, s.Pending = s.Pending[0], s.Pending[1:]
	s.ActiveSessionID = next
	return next, true
}

// Remove drops sessionID from the pending list (e.g. aborted while queued).
// Returns whether the session was found.
func (s *State) Remove(sessionID string) bool {
	for i, id := range s.Pending {
		if id == sessionID {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			return true
		}
	}
	return false
}

// Holds reports whether sessionID currently occupies the active slot.
func (s *State) Holds(sessionID string) bool {
	return s.ActiveSessionID == sessionID
}

// Depth returns the number of pending sessions.
func (s *State) Depth() int {
	return len(s.Pending)
}

// Package call drives WebRTC call negotiation between exactly two parties:
// offer/answer relay, ICE candidate queueing and a strict state machine with
// cancellation at every stage.
package call

import (
	"sync"
	"time"
)

// State of a call attempt. There is no stored Idle state: a session exists
// only once an offer arrived.
type State int

const (
	Ringing State = iota
	Negotiating
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Negotiating:
		return "negotiating"
	case Active:
		return "active"
	default:
		return "ended"
	}
}

// Reason a session reached its terminal state.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonDeclined  Reason = "declined"
	ReasonMissed    Reason = "missed"
	ReasonFailed    Reason = "failed"
	ReasonCancelled Reason = "cancelled"
)

type iceEntry struct {
	from      uint
	candidate any
}

// Session is the transient signaling record for one call attempt. All
// transitions are single-winner: the mutex plus the state check make a
// duplicate accept or a late event a silent no-op.
type Session struct {
	mu sync.Mutex

	conversationID uint
	callerID       uint
	calleeID       uint
	kind           string
	state          State
	reason         Reason
	offer          any
	answer         any
	pendingICE     []iceEntry
	started        time.Time

	ringTimer *time.Timer
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CallerID() uint { return s.callerID }

// accept performs the Ringing -> Negotiating transition exactly once and
// drains the candidate queue. The second return is the drained queue; it is
// empty when the acceptance lost the race.
func (s *Session) accept(calleeID uint, answer any) (bool, []iceEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ringing {
		return false, nil
	}
	s.state = Negotiating
	s.calleeID = calleeID
	s.answer = answer
	pending := s.pendingICE
	s.pendingICE = nil
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	return true, pending
}

// routeICE decides what to do with a candidate: queue it while the remote
// side has not joined negotiation, relay it to the peer otherwise, drop it
// after teardown.
func (s *Session) routeICE(from uint, candidate any) (relayTo uint, queued, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Ended:
		return 0, false, true
	case Ringing:
		s.pendingICE = append(s.pendingICE, iceEntry{from: from, candidate: candidate})
		return 0, true, false
	default:
		switch from {
		case s.callerID:
			return s.calleeID, false, false
		case s.calleeID:
			return s.callerID, false, false
		}
		return 0, false, true
	}
}

func (s *Session) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Negotiating {
		return false
	}
	s.state = Active
	return true
}

// endIf performs the terminal transition at most once, choosing the reason
// from the state the session actually leaves so a racing transition cannot
// mislabel it. choose returning false leaves the session untouched.
func (s *Session) endIf(choose func(State) (Reason, bool)) (Reason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ended {
		return s.reason, false
	}
	reason, ok := choose(s.state)
	if !ok {
		return s.reason, false
	}
	s.state = Ended
	s.reason = reason
	s.pendingICE = nil
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	return reason, true
}

// peerOf returns the other negotiating party, or 0 when unknown.
func (s *Session) peerOf(userID uint) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch userID {
	case s.callerID:
		return s.calleeID
	case s.calleeID:
		return s.callerID
	}
	return 0
}

func (s *Session) involves(userID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return userID == s.callerID || (s.calleeID != 0 && userID == s.calleeID)
}

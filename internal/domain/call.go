package domain

import "time"

// CallID is generated by the caller and opaque to the relay.
type CallID string

type CallState int

const (
	CallRinging CallState = iota
	CallNegotiating
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallNegotiating:
		return "negotiating"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	}
	return "unknown"
}

// PairKey identifies the unordered user pair of a call.
type PairKey struct {
	A, B UserID
}

// NewPairKey normalizes the pair so {x,y} and {y,x} collide.
func NewPairKey(x, y UserID) PairKey {
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// CallSession is the relay's record of one call negotiation.
// Owned exclusively by the call coordinator, never persisted.
type CallSession struct {
	ID        CallID
	CallerID  UserID
	CalleeID  UserID
	State     CallState
	CreatedAt time.Time
}

func (c *CallSession) Pair() PairKey {
	return NewPairKey(c.CallerID, c.CalleeID)
}

// HasParticipant reports whether uid is the caller or the callee.
func (c *CallSession) HasParticipant(uid UserID) bool {
	return uid == c.CallerID || uid == c.CalleeID
}

// PeerOf returns the other participant, or "" if uid is not part of the call.
func (c *CallSession) PeerOf(uid UserID) UserID {
	switch uid {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	}
	return ""
}

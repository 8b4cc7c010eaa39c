package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/relay/internal/core"
	"github.com/mentorhub/relay/internal/domain"
)

// Reject reasons carried on call-rejected events.
const (
	RejectOffline     = "offline"
	RejectBusy        = "busy"
	RejectDeclined    = "declined"
	RejectRateLimited = "rate-limited"
)

// Coordinator owns every in-progress call negotiation and enforces the
// call lifecycle: Ringing -> Negotiating -> Active -> Ended. Stray or
// duplicate signaling events degrade to a no-op, never corrupt state.
type Coordinator struct {
	reg *Registry
	rt  *Router

	mu    sync.Mutex
	calls map[domain.CallID]*domain.CallSession
	pairs map[domain.PairKey]domain.CallID

	now func() time.Time
}

func NewCoordinator(reg *Registry, rt *Router) *Coordinator {
	return &Coordinator{
		reg:   reg,
		rt:    rt,
		calls: make(map[domain.CallID]*domain.CallSession),
		pairs: make(map[domain.PairKey]domain.CallID),
		now:   time.Now,
	}
}

type incomingCallEvent struct {
	Type       string          `json:"type"`
	CallID     domain.CallID   `json:"callId"`
	From       domain.UserID   `json:"from"`
	Offer      json.RawMessage `json:"offer"`
	CallerName string          `json:"callerName,omitempty"`
}

type callAcceptedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	From   domain.UserID `json:"from"`
}

type callRejectedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	Reason string        `json:"reason"`
}

type callEndedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
}

type answerEvent struct {
	Type   string          `json:"type"`
	CallID domain.CallID   `json:"callId"`
	From   domain.UserID   `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

type iceCandidateEvent struct {
	Type      string          `json:"type"`
	CallID    domain.CallID   `json:"callId"`
	From      domain.UserID   `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// Invite starts a new call attempt from caller to callee. An unreachable
// callee or a pair that already has a live call yields an immediate
// call-rejected back to the caller and no CallSession.
func (c *Coordinator) Invite(callID domain.CallID, caller, callee domain.UserID, offer json.RawMessage, callerName string) {
	if callID == "" {
		callID = domain.CallID(uuid.NewString())
	}
	if len(c.reg.SessionsOf(callee)) == 0 {
		c.rejectCaller(caller, callID, RejectOffline)
		return
	}

	c.mu.Lock()
	pair := domain.NewPairKey(caller, callee)
	if _, busy := c.pairs[pair]; busy {
		c.mu.Unlock()
		c.rejectCaller(caller, callID, RejectBusy)
		return
	}
	if _, dup := c.calls[callID]; dup {
		c.mu.Unlock()
		log.Warn().Str("module", "app.calls").
			Str("call", string(callID)).Msg("duplicate call id, dropped")
		return
	}
	cs := &domain.CallSession{
		ID:        callID,
		CallerID:  caller,
		CalleeID:  callee,
		State:     domain.CallRinging,
		CreatedAt: c.now(),
	}
	c.calls[callID] = cs
	c.pairs[pair] = callID
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").
		Str("call", string(callID)).
		Str("caller", string(caller)).Str("callee", string(callee)).
		Msg("call ringing")
	c.rt.deliver(callee, incomingCallEvent{
		Type:       core.EvIncomingCall,
		CallID:     callID,
		From:       caller,
		Offer:      offer,
		CallerName: callerName,
	})
}

// Accept moves a ringing call to Negotiating. Only the callee may accept;
// anything else is dropped with state unchanged.
func (c *Coordinator) Accept(callID domain.CallID, sender domain.UserID) {
	cs, ok := c.transition(callID, sender, func(cs *domain.CallSession) bool {
		if sender != cs.CalleeID || cs.State != domain.CallRinging {
			return false
		}
		cs.State = domain.CallNegotiating
		return true
	})
	if !ok {
		return
	}
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Msg("call accepted")
	c.rt.deliver(cs.CallerID, callAcceptedEvent{Type: core.EvCallAccepted, CallID: callID, From: cs.CalleeID})
}

// Reject ends a ringing call before acceptance. Callee only.
func (c *Coordinator) Reject(callID domain.CallID, sender domain.UserID) {
	cs, ok := c.terminate(callID, func(cs *domain.CallSession) bool {
		return sender == cs.CalleeID && cs.State == domain.CallRinging
	})
	if !ok {
		return
	}
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Msg("call rejected")
	c.rt.deliver(cs.CallerID, callRejectedEvent{Type: core.EvCallRejected, CallID: callID, Reason: RejectDeclined})
}

// End terminates a call in any live state; either participant may end it.
func (c *Coordinator) End(callID domain.CallID, sender domain.UserID) {
	cs, ok := c.terminate(callID, func(cs *domain.CallSession) bool {
		return cs.HasParticipant(sender)
	})
	if !ok {
		return
	}
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Msg("call ended")
	c.rt.deliver(cs.PeerOf(sender), callEndedEvent{Type: core.EvCallEnded, CallID: callID})
}

// Answer relays the callee's negotiation answer and marks the handshake
// complete. Active reflects signaling only, not media connectivity.
func (c *Coordinator) Answer(callID domain.CallID, sender domain.UserID, answer json.RawMessage) {
	cs, ok := c.transition(callID, sender, func(cs *domain.CallSession) bool {
		if sender != cs.CalleeID || cs.State != domain.CallNegotiating {
			return false
		}
		cs.State = domain.CallActive
		return true
	})
	if !ok {
		return
	}
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Msg("call active")
	c.rt.deliver(cs.CallerID, answerEvent{Type: core.EvAnswer, CallID: callID, From: cs.CalleeID, Answer: answer})
}

// Candidate relays an ICE candidate to the opposite participant. Contents
// are opaque; the only checks are that the call is live and the sender is
// a participant.
func (c *Coordinator) Candidate(callID domain.CallID, sender domain.UserID, candidate json.RawMessage) {
	c.mu.Lock()
	cs, found := c.calls[callID]
	if !found || !cs.HasParticipant(sender) || cs.State == domain.CallEnded {
		c.mu.Unlock()
		log.Debug().Str("module", "app.calls").
			Str("call", string(callID)).Str("sender", string(sender)).
			Msg("candidate for unknown call or non-participant, dropped")
		return
	}
	peer := cs.PeerOf(sender)
	c.mu.Unlock()

	c.rt.deliver(peer, iceCandidateEvent{Type: core.EvICE, CallID: callID, From: sender, Candidate: candidate})
}

// DropUser force-terminates every live call uid participates in, relaying
// call-ended to the remaining party. Invoked when a user's last session
// disconnects.
func (c *Coordinator) DropUser(uid domain.UserID) {
	c.mu.Lock()
	var dropped []*domain.CallSession
	for id, cs := range c.calls {
		if !cs.HasParticipant(uid) {
			continue
		}
		cs.State = domain.CallEnded
		delete(c.calls, id)
		delete(c.pairs, cs.Pair())
		dropped = append(dropped, cs)
	}
	c.mu.Unlock()

	for _, cs := range dropped {
		log.Info().Str("module", "app.calls").
			Str("call", string(cs.ID)).Str("user", string(uid)).
			Msg("call ended by disconnect")
		c.rt.deliver(cs.PeerOf(uid), callEndedEvent{Type: core.EvCallEnded, CallID: cs.ID})
	}
}

// SweepStale removes ringing calls older than ttl and notifies both
// parties. Driven by a supervisory ticker outside this package.
func (c *Coordinator) SweepStale(ttl time.Duration) int {
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	var stale []*domain.CallSession
	for id, cs := range c.calls {
		if cs.State != domain.CallRinging || cs.CreatedAt.After(cutoff) {
			continue
		}
		cs.State = domain.CallEnded
		delete(c.calls, id)
		delete(c.pairs, cs.Pair())
		stale = append(stale, cs)
	}
	c.mu.Unlock()

	for _, cs := range stale {
		log.Info().Str("module", "app.calls").Str("call", string(cs.ID)).Msg("stale ringing call swept")
		c.rt.deliver(cs.CallerID, callEndedEvent{Type: core.EvCallEnded, CallID: cs.ID})
		c.rt.deliver(cs.CalleeID, callEndedEvent{Type: core.EvCallEnded, CallID: cs.ID})
	}
	return len(stale)
}

// StateOf reports the current state of a call, if it exists.
func (c *Coordinator) StateOf(callID domain.CallID) (domain.CallState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, found := c.calls[callID]
	if !found {
		return domain.CallEnded, false
	}
	return cs.State, true
}

// LiveCall reports whether the unordered pair currently has a live call.
func (c *Coordinator) LiveCall(a, b domain.UserID) (domain.CallID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, found := c.pairs[domain.NewPairKey(a, b)]
	return id, found
}

// transition applies mutate under the lock and returns the session when
// the step was legal. Illegal steps are dropped with state unchanged.
func (c *Coordinator) transition(callID domain.CallID, sender domain.UserID, mutate func(*domain.CallSession) bool) (*domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, found := c.calls[callID]
	if !found || !cs.HasParticipant(sender) {
		log.Debug().Str("module", "app.calls").
			Str("call", string(callID)).Str("sender", string(sender)).
			Msg("event for unknown call or non-participant, dropped")
		return nil, false
	}
	if !mutate(cs) {
		log.Debug().Str("module", "app.calls").
			Str("call", string(callID)).Str("state", cs.State.String()).
			Msg("out-of-order call event, ignored")
		return nil, false
	}
	return cs, true
}

// terminate removes the session when allow approves, marking it Ended.
func (c *Coordinator) terminate(callID domain.CallID, allow func(*domain.CallSession) bool) (*domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, found := c.calls[callID]
	if !found || !allow(cs) {
		log.Debug().Str("module", "app.calls").
			Str("call", string(callID)).Msg("terminal event dropped")
		return nil, false
	}
	cs.State = domain.CallEnded
	delete(c.calls, callID)
	delete(c.pairs, cs.Pair())
	return cs, true
}

func (c *Coordinator) rejectCaller(caller domain.UserID, callID domain.CallID, reason string) {
	log.Info().Str("module", "app.calls").
		Str("call", string(callID)).Str("caller", string(caller)).
		Str("reason", reason).Msg("invite rejected")
	c.rt.deliver(caller, callRejectedEvent{Type: core.EvCallRejected, CallID: callID, Reason: reason})
}

package app

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/relay/internal/core"
	"github.com/mentorhub/relay/internal/domain"
)

// Relay composes the registry, presence broadcaster, message router and
// call coordinator behind three transport-facing entry points: OnConnect,
// OnEvent, OnDisconnect. All inbound events funnel through one dispatch
// keyed by event name; handlers never accumulate across reconnects.
type Relay struct {
	Registry *Registry
	Presence *Presence
	Router   *Router
	Calls    *Coordinator

	invites *InviteRateLimiter
}

func NewRelay(inviteLimit int, inviteInterval time.Duration) *Relay {
	reg := NewRegistry()
	rt := NewRouter(reg)
	return &Relay{
		Registry: reg,
		Presence: NewPresence(reg),
		Router:   rt,
		Calls:    NewCoordinator(reg, rt),
		invites:  NewInviteRateLimiter(inviteLimit, inviteInterval),
	}
}

// OnConnect starts tracking a fresh, still-unbound transport session.
func (r *Relay) OnConnect(sid core.SessionID, conn core.SignalConnection) {
	r.Registry.Connect(sid, conn)
}

// OnDisconnect tears down everything derived from the session: registry
// binding, presence, and any call the user was party to.
func (r *Relay) OnDisconnect(sid core.SessionID) {
	uid, wentOffline := r.Registry.Disconnect(sid)
	if !wentOffline {
		return
	}
	r.Calls.DropUser(uid)
	r.Presence.Offline(uid)
}

// OnEvent decodes an inbound frame and dispatches it by event name.
// A malformed or mistimed event degrades to a no-op for that event only.
func (r *Relay) OnEvent(sid core.SessionID, data core.Frame) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("sid", string(sid)).Msg("bad json frame")
		return
	}

	switch env.Type {
	case core.EvRegister:
		r.handleRegister(sid, data)
	case core.EvPing:
		r.reply(sid, core.Envelope{Type: core.EvPong})
	case core.EvSendMessage:
		r.handleSendMessage(sid, data)
	case core.EvTyping:
		r.handleTyping(sid, data)
	case core.EvCallUser:
		r.handleCallUser(sid, data)
	case core.EvAcceptCall:
		r.handleAcceptCall(sid, data)
	case core.EvRejectCall:
		r.handleRejectCall(sid, data)
	case core.EvEndCall:
		r.handleEndCall(sid, data)
	case core.EvICE:
		r.handleCandidate(sid, data)
	case core.EvAnswer:
		r.handleAnswer(sid, data)
	default:
		log.Warn().Str("module", "app.relay").Str("type", env.Type).Msg("unknown event")
	}
}

// sender resolves the bound user of a session. Events from unbound
// sessions are dropped: registration is the entry ticket to routing.
func (r *Relay) sender(sid core.SessionID) (domain.UserID, bool) {
	uid, ok := r.Registry.UserOf(sid)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("sid", string(sid)).Msg("event from unbound session, dropped")
	}
	return uid, ok
}

// reply sends an event straight back on the originating session.
func (r *Relay) reply(sid core.SessionID, v any) {
	conn, ok := r.Registry.ConnOf(sid)
	if !ok {
		return
	}
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode reply")
		return
	}
	_ = conn.TrySend(frame)
}

type registeredEvent struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

func (r *Relay) handleRegister(sid core.SessionID, data core.Frame) {
	var p struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad register payload")
		return
	}
	uid, err := domain.ParseUserID(p.UserID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid register user id")
		return
	}

	res, ok := r.Registry.Bind(sid, uid)
	if !ok {
		return
	}
	if res.DisplacedOffline {
		r.Calls.DropUser(res.Displaced)
		r.Presence.Offline(res.Displaced)
	}
	r.reply(sid, registeredEvent{Type: core.EvRegistered, UserID: uid})
	if res.CameOnline {
		r.Presence.Online(uid)
	}
}

func (r *Relay) handleSendMessage(sid core.SessionID, data core.Frame) {
	if _, ok := r.sender(sid); !ok {
		return
	}
	var p struct {
		ReceiverID string          `json:"receiverId"`
		Message    json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad send-message payload")
		return
	}
	r.Router.RouteMessage(domain.UserID(p.ReceiverID), p.Message)
}

func (r *Relay) handleTyping(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p struct {
		ReceiverID string `json:"receiverId"`
		IsTyping   bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad typing payload")
		return
	}
	// The bound identity is the sender, whatever the payload claims.
	r.Router.RouteTyping(domain.UserID(p.ReceiverID), uid, p.IsTyping)
}

func (r *Relay) handleCallUser(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p struct {
		CallID     string          `json:"callId"`
		To         string          `json:"to"`
		Offer      json.RawMessage `json:"offer"`
		CallerName string          `json:"callerName"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad call-user payload")
		return
	}
	if !r.invites.Allow(uid) {
		log.Warn().Str("module", "app.relay").Str("user", string(uid)).Msg("invite rate limited")
		r.reply(sid, callRejectedEvent{Type: core.EvCallRejected, CallID: domain.CallID(p.CallID), Reason: RejectRateLimited})
		return
	}
	r.Calls.Invite(domain.CallID(p.CallID), uid, domain.UserID(p.To), p.Offer, p.CallerName)
}

type callRef struct {
	CallID string `json:"callId"`
}

func (r *Relay) handleAcceptCall(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p callRef
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad accept-call payload")
		return
	}
	r.Calls.Accept(domain.CallID(p.CallID), uid)
}

func (r *Relay) handleRejectCall(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p callRef
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad reject-call payload")
		return
	}
	r.Calls.Reject(domain.CallID(p.CallID), uid)
}

func (r *Relay) handleEndCall(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p callRef
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad end-call payload")
		return
	}
	r.Calls.End(domain.CallID(p.CallID), uid)
}

func (r *Relay) handleCandidate(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p struct {
		CallID    string          `json:"callId"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad ice-candidate payload")
		return
	}
	r.Calls.Candidate(domain.CallID(p.CallID), uid, p.Candidate)
}

func (r *Relay) handleAnswer(sid core.SessionID, data core.Frame) {
	uid, ok := r.sender(sid)
	if !ok {
		return
	}
	var p struct {
		CallID string          `json:"callId"`
		Answer json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("bad answer payload")
		return
	}
	r.Calls.Answer(domain.CallID(p.CallID), uid, p.Answer)
}

package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/relay/internal/core"
	"github.com/mentorhub/relay/internal/domain"
)

// Router delivers point-to-point events to every session a user has bound
// (multi-tab delivery). An unreachable receiver is a silent no-op: the relay
// never queues or retries, durable storage is the API layer's concern.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

type receiveMessageEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type userTypingEvent struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	IsTyping bool          `json:"isTyping"`
}

type notificationEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RouteMessage forwards the message payload unmodified to the receiver.
func (rt *Router) RouteMessage(receiver domain.UserID, message json.RawMessage) {
	n := rt.deliver(receiver, receiveMessageEvent{Type: core.EvReceiveMsg, Message: message})
	log.Debug().Str("module", "app.router").
		Str("receiver", string(receiver)).Int("sessions", n).Msg("routed message")
}

// RouteTyping forwards a transient typing indicator. Safe to drop under
// load since typing state is inherently transient.
func (rt *Router) RouteTyping(receiver, sender domain.UserID, isTyping bool) {
	rt.deliver(receiver, userTypingEvent{Type: core.EvUserTyping, UserID: sender, IsTyping: isTyping})
}

// RouteNotification is the server-push channel used by trusted HTTP
// components (booking, connection requests) to reach a connected user.
func (rt *Router) RouteNotification(receiver domain.UserID, event string, payload json.RawMessage) int {
	return rt.deliver(receiver, notificationEvent{Type: core.EvNotification, Event: event, Payload: payload})
}

// deliver fans v out to every session of receiver and reports how many
// sends were accepted by the transport queues.
func (rt *Router) deliver(receiver domain.UserID, v any) int {
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode routed event")
		return 0
	}
	sent := 0
	for _, snap := range rt.reg.SessionsOf(receiver) {
		if err := snap.Conn.TrySend(frame); err != nil {
			log.Debug().Str("module", "app.router").
				Str("sid", string(snap.SID)).Msg("routed send dropped")
			continue
		}
		sent++
	}
	return sent
}

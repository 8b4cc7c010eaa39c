package app

import (
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/relay/internal/core"
	"github.com/mentorhub/relay/internal/domain"
)

// Presence fans out online/offline transitions to every other bound session.
// Best effort: a slow or vanished recipient is skipped, never waited on.
type Presence struct {
	reg *Registry
}

func NewPresence(reg *Registry) *Presence {
	return &Presence{reg: reg}
}

type presenceEvent struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

func (p *Presence) Online(uid domain.UserID) {
	p.announce(core.EvUserOnline, uid)
}

func (p *Presence) Offline(uid domain.UserID) {
	p.announce(core.EvUserOffline, uid)
}

func (p *Presence) announce(event string, uid domain.UserID) {
	frame, err := core.Encode(presenceEvent{Type: event, UserID: uid})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence event")
		return
	}
	for _, snap := range p.reg.BoundExcept(uid) {
		if err := snap.Conn.TrySend(frame); err != nil {
			log.Debug().Str("module", "app.presence").
				Str("sid", string(snap.SID)).Str("event", event).
				Msg("presence send dropped")
		}
	}
	log.Info().Str("module", "app.presence").
		Str("user", string(uid)).Str("event", event).Msg("presence change")
}

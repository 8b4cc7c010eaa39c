package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/relay/internal/core"
	"github.com/mentorhub/relay/internal/domain"
)

type sessionEntry struct {
	UserID domain.UserID // "" until the session registers
	Conn   core.SignalConnection
}

// Registry is the authoritative in-memory map between user ids and live
// sessions. Forward map users -> session set, reverse map session -> entry,
// so disconnect cleanup never scans.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]map[core.SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]map[core.SessionID]struct{}),
	}
}

// SessionSnap is a point-in-time view of one live session.
type SessionSnap struct {
	SID    core.SessionID
	UserID domain.UserID
	Conn   core.SignalConnection
}

// BindResult reports the presence transitions caused by one Bind call.
type BindResult struct {
	// CameOnline is true when this was the user's first active session.
	CameOnline bool
	// Displaced is the user id this session was previously bound to, if
	// the bind replaced an existing different binding.
	Displaced domain.UserID
	// DisplacedOffline is true when the displaced user lost their last session.
	DisplacedOffline bool
}

// Connect starts tracking an unbound session. Until Bind the session
// participates in no routing and is invisible to SessionsOf.
func (r *Registry) Connect(sid core.SessionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn}
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Msg("session connected")
}

// Bind associates the session with uid. Re-registration of the same uid on
// the same session is a no-op; a different uid replaces the old binding.
// ok is false when the session is unknown (already disconnected).
func (r *Registry) Bind(sid core.SessionID, uid domain.UserID) (res BindResult, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.sessions[sid]
	if !found {
		return BindResult{}, false
	}
	if e.UserID == uid {
		return BindResult{}, true
	}
	if e.UserID != "" {
		res.Displaced = e.UserID
		res.DisplacedOffline = r.dropFromUser(e.UserID, sid)
	}
	set, exists := r.users[uid]
	if !exists {
		set = make(map[core.SessionID]struct{})
		r.users[uid] = set
		res.CameOnline = true
	}
	set[sid] = struct{}{}
	e.UserID = uid
	log.Info().Str("module", "app.registry").
		Str("sid", string(sid)).Str("user", string(uid)).
		Bool("first", res.CameOnline).Msg("bound session")
	return res, true
}

// Disconnect removes the session entirely. wentOffline is true when the
// bound user lost their last session; uid is "" for unbound sessions.
func (r *Registry) Disconnect(sid core.SessionID) (uid domain.UserID, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.sessions[sid]
	if !found {
		return "", false
	}
	delete(r.sessions, sid)
	if e.UserID == "" {
		return "", false
	}
	uid = e.UserID
	wentOffline = r.dropFromUser(uid, sid)
	log.Info().Str("module", "app.registry").
		Str("sid", string(sid)).Str("user", string(uid)).
		Bool("offline", wentOffline).Msg("unbind session")
	return uid, wentOffline
}

// dropFromUser removes sid from uid's set; caller holds r.mu.
// Returns true when the set became empty and was deleted.
func (r *Registry) dropFromUser(uid domain.UserID, sid core.SessionID) bool {
	set, found := r.users[uid]
	if !found {
		return false
	}
	delete(set, sid)
	if len(set) == 0 {
		delete(r.users, uid)
		return true
	}
	return false
}

// SessionsOf returns the current sessions bound to uid. An empty result
// means the user is unreachable, not an error.
func (r *Registry) SessionsOf(uid domain.UserID) []SessionSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, found := r.users[uid]
	if !found {
		return nil
	}
	out := make([]SessionSnap, 0, len(set))
	for sid := range set {
		if e, ok := r.sessions[sid]; ok {
			out = append(out, SessionSnap{SID: sid, UserID: uid, Conn: e.Conn})
		}
	}
	return out
}

// UserOf is the reverse lookup used during dispatch and disconnect cleanup.
func (r *Registry) UserOf(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.sessions[sid]
	if !found || e.UserID == "" {
		return "", false
	}
	return e.UserID, true
}

// ConnOf returns the transport connection of a session, bound or not.
func (r *Registry) ConnOf(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.sessions[sid]
	if !found {
		return nil, false
	}
	return e.Conn, true
}

// BoundExcept snapshots every bound session except those of uid.
func (r *Registry) BoundExcept(uid domain.UserID) []SessionSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.UserID == "" || e.UserID == uid {
			continue
		}
		out = append(out, SessionSnap{SID: sid, UserID: e.UserID, Conn: e.Conn})
	}
	return out
}

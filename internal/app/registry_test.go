package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Bind_FirstSession(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	conn := &fakeConn{}

	// Given a connected but unbound session
	reg.Connect("s1", conn)
	req.Empty(reg.SessionsOf("alice"))

	// When the session registers
	res, ok := reg.Bind("s1", "alice")

	// Then the user came online with exactly one session
	req.True(ok)
	req.True(res.CameOnline)
	req.Len(reg.SessionsOf("alice"), 1)

	uid, bound := reg.UserOf("s1")
	req.True(bound)
	req.Equal("alice", string(uid))
}

func TestRegistry_Bind_Idempotent(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})

	// Given a bound session
	first, ok := reg.Bind("s1", "alice")
	req.True(ok)
	req.True(first.CameOnline)

	// When the same session registers the same user again
	again, ok := reg.Bind("s1", "alice")

	// Then nothing changes: one entry, no second online transition
	req.True(ok)
	req.False(again.CameOnline)
	req.Len(reg.SessionsOf("alice"), 1)
}

func TestRegistry_Bind_SecondSessionSameUser(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})
	reg.Connect("s2", &fakeConn{})

	// Given a user already online in one tab
	res1, _ := reg.Bind("s1", "alice")
	req.True(res1.CameOnline)

	// When a second tab registers the same user
	res2, _ := reg.Bind("s2", "alice")

	// Then no new online transition, both sessions resolvable
	req.False(res2.CameOnline)
	req.Len(reg.SessionsOf("alice"), 2)
}

func TestRegistry_Bind_ReplacesPreviousBinding(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})

	// Given a session bound to alice, her only one
	_, _ = reg.Bind("s1", "alice")

	// When the same session registers as bob
	res, ok := reg.Bind("s1", "bob")

	// Then alice is displaced and went offline, bob came online
	req.True(ok)
	req.True(res.CameOnline)
	req.Equal("alice", string(res.Displaced))
	req.True(res.DisplacedOffline)
	req.Empty(reg.SessionsOf("alice"))
	req.Len(reg.SessionsOf("bob"), 1)
}

func TestRegistry_Bind_UnknownSession(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	// When binding a session that never connected
	_, ok := reg.Bind("ghost", "alice")

	// Then the bind is refused and no entry appears
	req.False(ok)
	req.Empty(reg.SessionsOf("alice"))
}

func TestRegistry_Disconnect_LastSession(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})
	_, _ = reg.Bind("s1", "alice")

	// When the only session disconnects
	uid, wentOffline := reg.Disconnect("s1")

	// Then the user went offline and every lookup comes back empty
	req.Equal("alice", string(uid))
	req.True(wentOffline)
	req.Empty(reg.SessionsOf("alice"))
	_, bound := reg.UserOf("s1")
	req.False(bound)
}

func TestRegistry_Disconnect_OneOfTwoSessions(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})
	reg.Connect("s2", &fakeConn{})
	_, _ = reg.Bind("s1", "alice")
	_, _ = reg.Bind("s2", "alice")

	// When one of two tabs disconnects
	uid, wentOffline := reg.Disconnect("s1")

	// Then the user stays reachable through the other tab
	req.Equal("alice", string(uid))
	req.False(wentOffline)
	req.Len(reg.SessionsOf("alice"), 1)
}

func TestRegistry_Disconnect_UnboundSession(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})

	// When a session that never registered disconnects
	uid, wentOffline := reg.Disconnect("s1")

	// Then no user transition is reported
	req.Empty(string(uid))
	req.False(wentOffline)
}

func TestRegistry_UnboundSessionInvisible(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("s1", &fakeConn{})
	reg.Connect("s2", &fakeConn{})
	_, _ = reg.Bind("s2", "bob")

	// An unbound session must not appear in any routing view
	req.Empty(reg.SessionsOf(""))
	snaps := reg.BoundExcept("nobody")
	req.Len(snaps, 1)
	req.Equal("bob", string(snaps[0].UserID))
}

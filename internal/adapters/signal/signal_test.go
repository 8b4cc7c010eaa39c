package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mentorhub/relay/internal/app"
	"github.com/mentorhub/relay/internal/config"
)

func newWSServer(t *testing.T) (*httptest.Server, *app.Relay) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Mode:       "release",
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		SendBuffer: 8,
	}
	relay := app.NewRelay(5, time.Minute)
	ctl := NewController(relay, cfg)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctl.Handle(context.Background(), c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, relay
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func read(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func register(t *testing.T, ws *websocket.Conn, uid string) {
	t.Helper()
	send(t, ws, map[string]string{"type": "register", "userId": uid})
	ack := read(t, ws)
	require.Equal(t, "registered", ack["type"])
	require.Equal(t, uid, ack["userId"])
}

func TestWS_RegisterAck(t *testing.T) {
	srv, relay := newWSServer(t)
	ws := dial(t, srv)

	register(t, ws, "alice")

	require.Len(t, relay.Registry.SessionsOf("alice"), 1)
}

func TestWS_MessageRelayEndToEnd(t *testing.T) {
	req := require.New(t)
	srv, _ := newWSServer(t)

	alice := dial(t, srv)
	register(t, alice, "alice")
	bob := dial(t, srv)
	register(t, bob, "bob")

	// alice observes bob coming online before any chat traffic
	online := read(t, alice)
	req.Equal("user-online", online["type"])
	req.Equal("bob", online["userId"])

	// When alice sends bob a message over the wire
	send(t, alice, map[string]any{
		"type": "send-message", "receiverId": "bob",
		"message": map[string]string{"text": "hello"},
	})

	// Then bob receives it with the payload intact
	msg := read(t, bob)
	req.Equal("receive-message", msg["type"])
	req.Equal("hello", msg["message"].(map[string]any)["text"])
}

func TestWS_DisconnectBroadcastsOffline(t *testing.T) {
	req := require.New(t)
	srv, relay := newWSServer(t)

	alice := dial(t, srv)
	register(t, alice, "alice")
	bob := dial(t, srv)
	register(t, bob, "bob")
	req.Equal("user-online", read(t, alice)["type"])

	// When bob's transport closes without any explicit event
	req.NoError(bob.Close())

	// Then alice observes user-offline and bob is unreachable
	offline := read(t, alice)
	req.Equal("user-offline", offline["type"])
	req.Equal("bob", offline["userId"])

	require.Eventually(t, func() bool {
		return len(relay.Registry.SessionsOf("bob")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWS_PingPong(t *testing.T) {
	srv, _ := newWSServer(t)
	ws := dial(t, srv)

	send(t, ws, map[string]string{"type": "ping"})

	require.Equal(t, "pong", read(t, ws)["type"])
}

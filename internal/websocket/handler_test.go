package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay/internal/hub"
	"roomrelay/internal/room"
	"roomrelay/internal/router"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.TokenConsumer = (*fakeTokens)(nil)

type fakeTokens struct {
	mu    sync.Mutex
	valid map[string]bool
	err   error
}

func newFakeTokens(tokens ...string) *fakeTokens {
	f := &fakeTokens{valid: make(map[string]bool)}
	for _, tok := range tokens {
		f.valid[tok] = true
	}
	return f
}

func (f *fakeTokens) ConsumeToken(_ context.Context, raw string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if !f.valid[raw] {
		return false, nil
	}
	delete(f.valid, raw)
	return true, nil
}

type handlerFixture struct {
	server   *httptest.Server
	handler  *Handler
	hub      *hub.Hub
	rooms    *room.Registry
	clock    *clock.Mock
	registry *Registry
}

func newHandlerFixture(t *testing.T, tokens interfaces.TokenConsumer) *handlerFixture {
	t.Helper()
	mock := clock.NewMock()
	rooms := room.NewRegistry(types.RoomDefaults{MaxPeers: 10, Lifetime: time.Minute}, mock, zerolog.Nop())
	h := hub.NewHub(
		rooms,
		router.NewRateLimiter(50, time.Minute, mock),
		router.NewDispatcher(rooms, zerolog.Nop()),
		hub.Options{LobbyTimeout: 10 * time.Second, Clock: mock, Logger: zerolog.Nop()},
	)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })

	registry := NewRegistry()
	handler := NewHandler(h, tokens, registry, HandlerOptions{Logger: zerolog.Nop()})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &handlerFixture{server: server, handler: handler, hub: h, rooms: rooms, clock: mock, registry: registry}
}

func (f *handlerFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.server, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens())

	conn := f.dial(t, "")
	assert.Equal(t, types.CloseNoToken.Code, readCloseCode(t, conn))
}

func TestHandler_RejectsUnknownToken(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("good"))

	conn := f.dial(t, "token=bad")
	assert.Equal(t, types.CloseInvalidToken.Code, readCloseCode(t, conn))
}

func TestHandler_TokenIsSingleUse(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("once"))

	first := f.dial(t, "token=once")
	assert.Equal(t, types.MessageTypeConnected, readEvent(t, first)["type"])

	second := f.dial(t, "token=once")
	assert.Equal(t, types.CloseInvalidToken.Code, readCloseCode(t, second))
}

func TestHandler_StorageFailureIsUnauthorized(t *testing.T) {
	tokens := newFakeTokens()
	tokens.err = errors.New("disk on fire")
	f := newHandlerFixture(t, tokens)

	conn := f.dial(t, "token=any")
	assert.Equal(t, types.CloseUnauthorized.Code, readCloseCode(t, conn))
}

func TestHandler_ConnectedEventCarriesName(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a", "b"))

	named := readEvent(t, f.dial(t, "token=a&name=alice"))
	assert.Equal(t, types.MessageTypeConnected, named["type"])
	assert.True(t, strings.HasPrefix(named["id"].(string), "alice-"))

	guest := readEvent(t, f.dial(t, "token=b"))
	assert.True(t, strings.HasPrefix(guest["id"].(string), "guest-"))

	assert.Eventually(t, func() bool { return f.registry.Count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHandler_ImplicitRoom(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a"))
	conn := f.dial(t, "token=a&room=lobby-1&maxPeers=3&lifetime=30")

	connected := readEvent(t, conn)
	created := readEvent(t, conn)
	assert.Equal(t, types.MessageTypeRoomCreated, created["type"])
	assert.Equal(t, "lobby-1", created["room"])
	joined := readEvent(t, conn)
	assert.Equal(t, types.MessageTypeJoined, joined["type"])
	assert.Equal(t, connected["id"], joined["sender"])

	r, ok := f.rooms.Get("lobby-1")
	require.True(t, ok)
	assert.Equal(t, 3, r.Settings().MaxPeers)
	assert.Equal(t, 30*time.Second, r.Settings().Lifetime)
}

func TestHandler_InvalidRoomQueryKeepsPeerInLobby(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a"))
	conn := f.dial(t, "token=a&room=r&maxPeers=lots")

	assert.Equal(t, types.MessageTypeConnected, readEvent(t, conn)["type"])
	event := readEvent(t, conn)
	assert.Equal(t, types.MessageTypeError, event["type"])
	assert.Equal(t, types.ErrInvalidMaxPeers.Error(), event["error"])
	assert.Zero(t, f.rooms.Count())

	f.clock.Add(10 * time.Second)
	assert.Equal(t, types.CloseLobbyTimeout.Code, readCloseCode(t, conn))
}

func TestHandler_FullRoomClosesJoiner(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a", "b"))

	first := f.dial(t, "token=a&room=tiny&maxPeers=1")
	readEvent(t, first)
	readEvent(t, first)

	second := f.dial(t, "token=b&room=tiny")
	assert.Equal(t, types.MessageTypeConnected, readEvent(t, second)["type"])
	assert.Equal(t, types.CloseRoomFull.Code, readCloseCode(t, second))
}

func TestHandler_FramesReachHub(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a"))
	conn := f.dial(t, "token=a&name=bob")
	connected := readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "create-room",
		"settings": map[string]any{"name": "den"},
	}))
	assert.Equal(t, types.MessageTypeRoomCreated, readEvent(t, conn)["type"])
	assert.Equal(t, types.MessageTypeJoined, readEvent(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "list"}))
	list := readEvent(t, conn)
	assert.Equal(t, types.MessageTypeList, list["type"])
	assert.Equal(t, []any{connected["id"]}, list["peers"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	event := readEvent(t, conn)
	assert.Equal(t, types.ErrInvalidMessage.Error(), event["error"])
}

func TestHandler_DisconnectReleasesPeer(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a"))
	conn := f.dial(t, "token=a&room=brief")
	readEvent(t, conn)
	readEvent(t, conn)
	require.Equal(t, 1, f.rooms.Count())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.rooms.Count() == 0 && f.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_HubStopClosesPeers(t *testing.T) {
	f := newHandlerFixture(t, newFakeTokens("a"))
	conn := f.dial(t, "token=a&room=doomed")
	readEvent(t, conn)
	readEvent(t, conn)

	require.NoError(t, f.hub.Stop())
	assert.Equal(t, types.CloseRoomDeleted.Code, readCloseCode(t, conn))
}

package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/registry"
)

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) registry.ServiceEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev registry.ServiceEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func readReply(t *testing.T, conn *websocket.Conn) ReplyFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var r ReplyFrame
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func TestWebSocketAllEvents(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)

	inst, err := f.store.Register(f.kit.Ctx, registry.Registration{ServiceName: "api", Host: "h", Port: 80})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, registry.EventServiceRegistered, ev.EventType)
	assert.Equal(t, "api", ev.ServiceName)
	assert.Equal(t, inst.ID, ev.InstanceID)
}

func TestWebSocketSubscribeFilter(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSubscribe, Service: "billing"}))
	reply := readReply(t, conn)
	assert.Equal(t, FrameSubscribed, reply.Type)
	assert.Equal(t, []string{"billing"}, reply.Services)

	_, err := f.store.Register(f.kit.Ctx, registry.Registration{ServiceName: "orders", Host: "h", Port: 80})
	require.NoError(t, err)
	_, err = f.store.Register(f.kit.Ctx, registry.Registration{ServiceName: "billing", Host: "h", Port: 81})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, "billing", ev.ServiceName)
}

func TestWebSocketInvalidFrameKeepsConnection(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	reply := readReply(t, conn)
	assert.Equal(t, FrameError, reply.Type)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "teleport", Service: "x"}))
	reply = readReply(t, conn)
	assert.Equal(t, FrameError, reply.Type)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSubscribe, Service: "x"}))
	reply = readReply(t, conn)
	assert.Equal(t, FrameSubscribed, reply.Type)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameUnsubscribe, Service: "x"}))
	reply = readReply(t, conn)
	assert.Equal(t, FrameUnsubscribed, reply.Type)
	assert.Empty(t, reply.Services)
}

func TestWebSocketClosesSubscription(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)

	assert.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.bus.Subscribers() == 0 }, 3*time.Second, 10*time.Millisecond)
}

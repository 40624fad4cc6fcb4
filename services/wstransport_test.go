package services

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireEvent is an Event as a client sees it.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func serveGateway(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.Serve(r.Context(), conn, r.URL.Query().Get("token"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServeAuthenticatesFromToken(t *testing.T) {
	f := newGatewayFixture(t, "alice")
	sess, err := f.auth.Login(context.Background(), "alice", testPassword)
	require.NoError(t, err)
	srv := serveGateway(t, f.gw)

	conn := dial(t, srv, "?token="+sess.Token)
	ev := readEvent(t, conn)
	assert.Equal(t, EventAuthenticated, ev.Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventPing}))
	assert.Equal(t, EventPong, readEvent(t, conn).Event)
}

func TestServeReportsMalformedFrames(t *testing.T) {
	f := newGatewayFixture(t, "alice")
	srv := serveGateway(t, f.gw)
	conn := dial(t, srv, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Event)
	var data ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "bad_payload", data.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": EventAuthenticate,
		"data":  map[string]string{"username": "alice", "password": testPassword},
	}))
	assert.Equal(t, EventAuthenticated, readEvent(t, conn).Event)
}

func TestServeClosesUnauthenticatedAfterTimeout(t *testing.T) {
	f := newGatewayFixture(t, "alice")
	f.gw.transport.AuthTimeout = 100 * time.Millisecond
	srv := serveGateway(t, f.gw)
	conn := dial(t, srv, "")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "server should have closed the socket first")
	}
}

func TestServeUnregistersOnDisconnect(t *testing.T) {
	f := newGatewayFixture(t, "alice")
	sess, err := f.auth.Login(context.Background(), "alice", testPassword)
	require.NoError(t, err)
	srv := serveGateway(t, f.gw)

	conn := dial(t, srv, "?token="+sess.Token)
	readEvent(t, conn)
	require.Equal(t, 1, f.gw.Registry().UserConnections("alice"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool {
		return f.gw.Registry().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWSConnOverflowMarksQueueForDrop(t *testing.T) {
	w := NewWSConn(nil, TransportConfig{SendBuffer: 1})
	assert.True(t, w.Deliver(Event{Name: EventPong}))
	assert.False(t, w.overflowed.Load())

	assert.False(t, w.Deliver(Event{Name: EventPong}))
	assert.True(t, w.overflowed.Load())

	w.Close()
	assert.False(t, w.Deliver(Event{Name: EventPong}))
	select {
	case <-w.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestServeClosesSocketWhenSessionEnds(t *testing.T) {
	f := newGatewayFixture(t, "alice")
	f.gw.transport = TransportConfig{PingInterval: 50 * time.Millisecond, PongTimeout: time.Second}.withDefaults()
	ctx := context.Background()
	sess, err := f.auth.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	srv := serveGateway(t, f.gw)

	conn := dial(t, srv, "?token="+sess.Token)
	require.Equal(t, EventAuthenticated, readEvent(t, conn).Event)

	// logout handled elsewhere: only the session store knows
	require.NoError(t, f.auth.Logout(ctx, sess.Token))

	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Event)
	var data ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "session_expired", data.Code)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Eventually(t, func() bool {
		return f.gw.Registry().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

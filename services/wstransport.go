package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"securechat/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TransportConfig holds the socket timeouts and limits.
type TransportConfig struct {
	AuthTimeout    time.Duration
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	EventTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

func TransportConfigFrom(conf *config.ConfigSchema) TransportConfig {
	ws := conf.WebSocket
	return TransportConfig{
		AuthTimeout:    ws.AuthTimeout,
		WriteTimeout:   ws.WriteTimeout,
		PongTimeout:    ws.PongTimeout,
		PingInterval:   ws.PingInterval,
		EventTimeout:   ws.EventTimeout,
		SendBuffer:     ws.SendBuffer,
		MaxMessageSize: ws.MaxMessageSize,
	}
}

func (t TransportConfig) withDefaults() TransportConfig {
	if t.AuthTimeout <= 0 {
		t.AuthTimeout = 10 * time.Second
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = 10 * time.Second
	}
	if t.PongTimeout <= 0 {
		t.PongTimeout = 60 * time.Second
	}
	if t.PingInterval <= 0 || t.PingInterval >= t.PongTimeout {
		t.PingInterval = t.PongTimeout * 9 / 10
	}
	if t.EventTimeout <= 0 {
		t.EventTimeout = 5 * time.Second
	}
	if t.SendBuffer <= 0 {
		t.SendBuffer = 256
	}
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = 64 << 10
	}
	return t
}

// WSConn is the Outbound side of a gorilla websocket. Events are queued on
// a bounded channel and written by a single writer goroutine.
type WSConn struct {
	conn      *websocket.Conn
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
	// overflowed is set once an event was refused for lack of room; the
	// queue is then dropped instead of flushed on close.
	overflowed atomic.Bool
	cfg        TransportConfig
}

func NewWSConn(conn *websocket.Conn, cfg TransportConfig) *WSConn {
	cfg = cfg.withDefaults()
	return &WSConn{
		conn: conn,
		send: make(chan Event, cfg.SendBuffer),
		done: make(chan struct{}),
		cfg:  cfg,
	}
}

func (w *WSConn) Deliver(ev Event) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.send <- ev:
		return true
	default:
		w.overflowed.Store(true)
		return false
	}
}

func (w *WSConn) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *WSConn) Done() <-chan struct{} {
	return w.done
}

// writePump drains the queue and keeps the peer alive with pings. It owns
// every write on the socket and closes it on exit.
func (w *WSConn) writePump(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case ev := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := w.conn.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				w.Close()
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.Close()
				return
			}
		case <-ctx.Done():
			w.Close()
			w.writeClose(websocket.CloseGoingAway, "server shutting down")
			return
		case <-w.done:
			if !w.overflowed.Load() {
				w.flush()
			}
			w.writeClose(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// flush writes what is already queued, so a final error event still
// reaches the peer.
func (w *WSConn) flush() {
	for {
		select {
		case ev := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := w.conn.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *WSConn) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.cfg.WriteTimeout))
}

// Serve runs one websocket connection until either side closes it. A
// non-empty token authenticates the connection up front; otherwise the
// client has AuthTimeout to send an authenticate event.
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, token string) {
	cfg := g.transport
	ws := NewWSConn(conn, cfg)
	client := g.NewClient(ws)
	logger := g.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	g.metrics.incConn()
	defer g.metrics.decConn()

	if token != "" {
		authCtx, cancel := context.WithTimeout(ctx, cfg.EventTimeout)
		if err := client.AuthenticateToken(authCtx, token); err != nil {
			ws.Deliver(errorEvent(err, EventAuthenticate))
		}
		cancel()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ws.writePump(ctx, logger)
	}()

	g.readPump(ctx, conn, ws, client, logger)

	client.Close()
	ws.Close()
	<-writerDone
	logger.Debug("websocket closed", zap.String("user", client.User()))
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, ws *WSConn, client *Client, logger *zap.Logger) {
	cfg := g.transport
	conn.SetReadLimit(cfg.MaxMessageSize)

	extend := func() {
		if client.Authenticated() {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		}
	}
	if client.Authenticated() {
		extend()
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.AuthTimeout))
	}
	conn.SetPongHandler(func(string) error {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.EventTimeout)
		err := client.CheckSession(checkCtx)
		cancel()
		if KindOf(err) == KindAuthentication {
			ws.Deliver(errorEvent(err, ""))
			return err
		}
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			ws.Deliver(errorEvent(ErrMalformedPayload, ""))
			continue
		}

		evCtx, cancel := context.WithTimeout(ctx, cfg.EventTimeout)
		_ = client.Handle(evCtx, in)
		cancel()
		extend()

		select {
		case <-ws.Done():
			return
		default:
		}
	}
}

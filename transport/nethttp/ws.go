// Package nethttp implements transport.Responder on net/http and
// github.com/gorilla/websocket, with the usual read-pump/write-side
// split around a gorilla connection.
package nethttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chansock/transport"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Upgrader is exposed so applications can tune origin checking.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSResponder adapts a gorilla/websocket connection to transport.Responder.
// There is no application-level send channel: the channel-socket server
// already serializes pushes per uid via its own buffers, so writes here
// go straight to the socket guarded by a mutex (gorilla connections are
// not safe for concurrent writers).
type WSResponder struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  int32

	ctx    context.Context
	cancel context.CancelFunc

	hooks transport.Hooks
	log   *slog.Logger
}

// UpgradeWS upgrades req to a WebSocket and wires hooks, starting the read
// pump in a background goroutine. readDeadline governs the liveness
// watchdog: every inbound frame (including chsk/ws-ping) pushes the
// deadline forward, so a socket that goes silent past the deadline is
// closed by the read pump.
func UpgradeWS(w http.ResponseWriter, r *http.Request, hooks transport.Hooks, readDeadline time.Duration, log *slog.Logger) (*WSResponder, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(r.Context())
	resp := &WSResponder{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		hooks:  hooks,
		log:    log,
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go resp.readPump(readDeadline)

	if hooks.OnOpen != nil {
		hooks.OnOpen(resp)
	}
	return resp, nil
}

func (r *WSResponder) readPump(readDeadline time.Duration) {
	defer r.Close()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				r.log.Debug("ws read error", "error", err)
			}
			return
		}
		r.conn.SetReadDeadline(time.Now().Add(readDeadline))
		if r.hooks.OnMessage != nil {
			r.hooks.OnMessage(r, string(data))
		}
	}
}

func (r *WSResponder) Send(msg string, closeAfter bool) error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return websocket.ErrCloseSent
	}
	r.writeMu.Lock()
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := r.conn.WriteMessage(websocket.TextMessage, []byte(msg))
	r.writeMu.Unlock()
	if err != nil {
		r.Close()
		return err
	}
	if closeAfter {
		return r.Close()
	}
	return nil
}

func (r *WSResponder) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.cancel()
	err := r.conn.Close()
	if r.hooks.OnClose != nil {
		r.hooks.OnClose(r)
	}
	return err
}

func (r *WSResponder) Context() context.Context { return r.ctx }

package client

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chansock/event"
	"chansock/pstr"
)

// wsEngine is the WebSocket transport: a single mutex-guarded connection
// plus read and keep-alive loops, with retry-id invalidation for
// superseding stale reconnect timers.
type wsEngine struct {
	deps *coreDeps

	mu         sync.Mutex
	conn       *websocket.Conn
	retryID    uint64
	retryCount int
	lastSendAt time.Time
	stopped    bool

	// onFirstError, when set by the Auto engine, is invoked instead of
	// scheduling a reconnect the first time the connection fails or
	// closes uncleanly (the auto-transport downgrade trigger). It is
	// cleared after firing so later failures behave like a plain WS
	// client (keep trying to reconnect).
	onFirstError func(err error)
}

func newWSEngine(deps *coreDeps, onFirstError func(err error)) *wsEngine {
	return &wsEngine{deps: deps, onFirstError: onFirstError}
}

func buildWSURL(cfg Config, clientID string) (string, error) {
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("client-id", clientID)
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *wsEngine) connect() {
	go e.dial()
}

func (e *wsEngine) dial() {
	wsURL, err := buildWSURL(e.deps.cfg, e.deps.clientID)
	if err != nil {
		e.deps.log.Error("client: invalid ws url", "error", err)
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		e.handleFailure(err)
		return
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.conn = conn
	myRetryID := e.retryID
	e.mu.Unlock()

	go e.readLoop(conn, myRetryID)
	go e.keepAliveLoop(conn, myRetryID)
}

func (e *wsEngine) readLoop(conn *websocket.Conn, retryID uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.handleClose(retryID, err)
			return
		}
		e.handleMessage(string(data))
	}
}

func (e *wsEngine) keepAliveLoop(conn *websocket.Conn, retryID uint64) {
	ticker := time.NewTicker(e.deps.cfg.WSKaliveMs)
	defer ticker.Stop()
	for range ticker.C {
		e.mu.Lock()
		if e.retryID != retryID {
			e.mu.Unlock()
			return
		}
		sinceLastSend := time.Since(e.lastSendAt)
		e.mu.Unlock()

		if sinceLastSend >= e.deps.cfg.WSKaliveMs {
			packed, err := pstr.Pack(e.deps.cfg.Packer, event.NewNoPayload(event.WSPing).AsSlice(), pstr.NoCB)
			if err == nil {
				e.writeRaw(conn, packed)
			}
		}
	}
}

func (e *wsEngine) writeRaw(conn *websocket.Conn, packed string) error {
	e.mu.Lock()
	e.lastSendAt = time.Now()
	e.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(packed))
}

func (e *wsEngine) handleMessage(raw string) {
	value, cb, err := pstr.Unpack(e.deps.cfg.Packer, raw)
	if err != nil {
		// Codec failure propagates on the client: a malformed push is a
		// protocol violation by the server.
		deliverEvent(e.deps, event.New(event.WSError, err.Error()))
		return
	}

	ev, ok := event.FromValue(value)
	if ok && ev.ID == event.Handshake {
		e.mu.Lock()
		e.retryCount = 0
		e.mu.Unlock()
		applyHandshake(e.deps, "ws", ev.Payload)
		return
	}

	if cb.Present() {
		e.deps.waiters.resolveOnce(cb, value)
		return
	}

	deliverBatch(e.deps, value)
}

func (e *wsEngine) handleFailure(err error) {
	publishState(e.deps, func(s *SocketState) { s.Open = false })

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	hook := e.onFirstError
	e.onFirstError = nil
	e.mu.Unlock()

	if hook != nil {
		hook(err)
		return
	}
	e.scheduleReconnect()
}

func (e *wsEngine) handleClose(retryID uint64, err error) {
	e.mu.Lock()
	if e.retryID != retryID {
		e.mu.Unlock()
		return // superseded by a later connect/disconnect
	}
	e.conn = nil
	e.mu.Unlock()

	e.deps.waiters.failAll(event.ErrSentinel)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		publishState(e.deps, func(s *SocketState) { s.Open = false })
		return
	}
	e.handleFailure(err)
}

func (e *wsEngine) scheduleReconnect() {
	e.mu.Lock()
	e.retryID++
	myRetryID := e.retryID
	e.retryCount++
	delay := e.deps.cfg.BackoffMsFn(e.retryCount)
	e.mu.Unlock()

	time.AfterFunc(delay, func() {
		e.mu.Lock()
		stale := e.retryID != myRetryID
		stopped := e.stopped
		e.mu.Unlock()
		if stale || stopped {
			return
		}
		e.dial()
	})
}

func (e *wsEngine) disconnect(reconnect bool) {
	e.mu.Lock()
	e.retryID++ // invalidate any pending reconnect timer
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	publishState(e.deps, func(s *SocketState) { s.Open = false })

	if reconnect {
		e.connect()
	}
}

func (e *wsEngine) stop() {
	e.mu.Lock()
	e.stopped = true
	conn := e.conn
	e.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	publishState(e.deps, func(s *SocketState) { s.Open = false })
}

func (e *wsEngine) send(ev event.Event, reply ReplyFunc, timeout time.Duration) {
	state := e.deps.state.Get()
	if !state.Open {
		if reply != nil {
			reply(event.Closed)
		}
		return
	}

	var cb pstr.CB = pstr.NoCB
	if reply != nil {
		cb = pstr.CB(shortID())
		e.deps.waiters.register(cb, reply, timeout, event.Timeout)
	}

	packed, err := pstr.Pack(e.deps.cfg.Packer, ev.AsSlice(), cb)
	if err != nil {
		if cb.Present() {
			e.deps.waiters.resolveOnce(cb, event.ErrSentinel)
		}
		return
	}

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		if cb.Present() {
			e.deps.waiters.resolveOnce(cb, event.Closed)
		}
		return
	}

	if err := e.writeRaw(conn, packed); err != nil {
		if cb.Present() {
			e.deps.waiters.resolveOnce(cb, event.ErrSentinel)
		}
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

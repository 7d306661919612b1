// Package server implements the channel-socket server endpoint: handshake
// and long-poll GET, Ajax POST, push with batching, and the connected-
// users view. HandshakeOrPoll and AjaxPost run directly on each
// request's own goroutine against registry.Registry's mutex/snapshot
// model rather than funneling through a single hub loop.
package server

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chansock/event"
	"chansock/pstr"
	"chansock/registry"
	"chansock/transport"
	"chansock/transport/nethttp"
	"chansock/watch"
)

// EventMsg is an event plus delivery metadata, placed on the receive
// queue the application drains via the router package.
type EventMsg struct {
	Event    event.Event
	UID      registry.UID
	ClientID registry.ClientID

	// Reply, when non-nil, delivers the application handler's response
	// back to the originating client. Calling it more than once after
	// the first call is a no-op.
	Reply func(v any)
}

// Server bundles the handles an application wires up: send (Push),
// receive-queue (Receive), connected-users (ConnectedUsers) and the two
// HTTP handlers. A process may hold several independent Servers.
type Server struct {
	cfg Config
	reg *registry.Registry
	log *slog.Logger

	recv chan EventMsg

	bufMu   sync.Mutex
	wsBuf   map[registry.UID]*sendBuffer
	ajaxBuf map[registry.UID]*sendBuffer

	nextID uint64
}

type sendBuffer struct {
	events []event.Event
	ids    map[uint64]struct{}
}

// New constructs a Server bundle.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		reg:     registry.New(),
		log:     cfg.Logger,
		recv:    make(chan EventMsg, cfg.RecvBufOrN),
		wsBuf:   make(map[registry.UID]*sendBuffer),
		ajaxBuf: make(map[registry.UID]*sendBuffer),
	}
}

// Receive returns the receive queue the application's router drains.
func (s *Server) Receive() <-chan EventMsg { return s.recv }

// ConnectedUsers returns the watchable connected-users view.
func (s *Server) ConnectedUsers() *watch.Watchable[registry.ConnectedUsers] {
	return s.reg.View()
}

func (s *Server) enqueue(ev event.Event, uid registry.UID, cid registry.ClientID, reply func(any)) {
	msg := EventMsg{Event: ev, UID: uid, ClientID: cid, Reply: reply}
	select {
	case s.recv <- msg:
	default:
		s.log.Warn("receive queue full, dropping event", "event", ev.ID, "uid", uid)
	}
}

func (s *Server) resolveUID(r *http.Request, cid registry.ClientID) registry.UID {
	if s.cfg.UserIDFn == nil {
		return registry.NilUID
	}
	uid := s.cfg.UserIDFn(r, cid)
	if uid == "" {
		return registry.NilUID
	}
	return uid
}

// HandshakeOrPoll handles the single GET endpoint: a WebSocket upgrade or
// an Ajax long-poll, selected by the request's upgrade headers.
func (s *Server) HandshakeOrPoll(w http.ResponseWriter, r *http.Request) {
	cidStr := r.URL.Query().Get("client-id")
	if cidStr == "" {
		http.Error(w, "missing required client-id query parameter", http.StatusBadRequest)
		return
	}
	cid := registry.ClientID(cidStr)
	uid := s.resolveUID(r, cid)

	var csrf string
	if s.cfg.CSRFTokenFn != nil {
		csrf = s.cfg.CSRFTokenFn(r)
	}
	if csrf == "" {
		s.log.Warn("handshake without csrf token", "uid", uid, "client_id", cid)
	}
	var handshakeData any
	if s.cfg.HandshakeDataFn != nil {
		handshakeData = s.cfg.HandshakeDataFn(r)
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWS(w, r, uid, cid, csrf, handshakeData)
		return
	}
	s.serveAjaxPoll(w, r, uid, cid, csrf, handshakeData)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, uid registry.UID, cid registry.ClientID, csrf string, handshakeData any) {
	hooks := transport.Hooks{
		OnMessage: func(resp transport.Responder, raw string) {
			s.handleWSMessage(uid, cid, resp, raw)
		},
		OnClose: func(transport.Responder) {
			s.handleWSClose(uid, cid)
		},
	}

	resp, err := nethttp.UpgradeWS(w, r, hooks, s.cfg.WSConnGC, s.log)
	if err != nil {
		s.log.Error("ws upgrade failed", "error", err, "uid", uid)
		return
	}

	firstOpen := s.reg.OpenWS(uid, cid, resp)
	if firstOpen {
		s.enqueue(event.New(event.UIDPortOpen, uid), uid, cid, nil)
	}

	packed, err := s.packHandshake(uid, csrf, handshakeData, firstOpen)
	if err != nil {
		s.log.Error("failed to pack handshake", "error", err)
		resp.Close()
		return
	}
	if err := resp.Send(packed, false); err != nil {
		s.log.Debug("failed to send handshake", "error", err)
	}
}

func (s *Server) handleWSMessage(uid registry.UID, cid registry.ClientID, resp transport.Responder, raw string) {
	value, cb, err := pstr.Unpack(s.cfg.Packer, raw)
	if err != nil {
		s.enqueue(event.BadPackageEvent(raw), uid, cid, nil)
		return
	}
	ev, ok := event.FromValue(value)
	if !ok {
		s.enqueue(event.BadEvent(value), uid, cid, nil)
		return
	}
	if ev.ID == event.WSPing {
		return // keep-alive only; the read deadline was already reset.
	}
	s.enqueue(ev, uid, cid, s.buildWSReplyFn(resp, cb))
}

func (s *Server) buildWSReplyFn(resp transport.Responder, cb pstr.CB) func(any) {
	if !cb.Present() {
		return nil
	}
	var replied int32
	return func(v any) {
		if !atomic.CompareAndSwapInt32(&replied, 0, 1) {
			return
		}
		packed, err := pstr.Pack(s.cfg.Packer, v, cb)
		if err != nil {
			s.log.Error("failed to pack ws reply", "error", err)
			return
		}
		if err := resp.Send(packed, false); err != nil {
			s.log.Debug("failed to send ws reply", "error", err)
		}
	}
}

func (s *Server) handleWSClose(uid registry.UID, cid registry.ClientID) {
	s.reg.CloseWS(uid, cid)
	time.AfterFunc(5*time.Second, func() {
		// Live recheck ("still disconnected N seconds later"),
		// distinct from the Ajax timestamp-comparison path below.
		if !s.reg.IsPresent(uid) {
			s.enqueue(event.New(event.UIDPortClose, uid), uid, cid, nil)
		}
	})
}

func (s *Server) serveAjaxPoll(w http.ResponseWriter, r *http.Request, uid registry.UID, cid registry.ClientID, csrf string, handshakeData any) {
	handshakeParam := r.URL.Query().Get("handshake") == "true"
	now := time.Now()
	_, existed := s.reg.AjaxLastConnected(uid, cid)
	isInitial := !existed || handshakeParam

	if isInitial {
		firstOpen := s.reg.OpenAjax(uid, cid, nil, now)
		if firstOpen {
			s.enqueue(event.New(event.UIDPortOpen, uid), uid, cid, nil)
		}
		packed, err := s.packHandshake(uid, csrf, handshakeData, firstOpen)
		if err != nil {
			http.Error(w, "failed to encode handshake", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(packed))
		s.scheduleAjaxGrace(uid, cid, now)
		return
	}

	hooks := transport.Hooks{
		OnClose: func(transport.Responder) {
			disconnectedAt := time.Now()
			s.reg.ReleaseAjaxResponder(uid, cid)
			s.scheduleAjaxGrace(uid, cid, disconnectedAt)
		},
	}
	resp := nethttp.NewLongPoll(r.Context(), hooks)
	s.reg.OpenAjax(uid, cid, resp, now)
	resp.Serve(w, r, s.cfg.AjaxHoldMax)
}

func (s *Server) scheduleAjaxGrace(uid registry.UID, cid registry.ClientID, disconnectedAt time.Time) {
	time.AfterFunc(5*time.Second, func() {
		s.reg.ExpireAjaxIfStale(uid, cid, disconnectedAt)
		if !s.reg.IsPresent(uid) {
			s.enqueue(event.New(event.UIDPortClose, uid), uid, cid, nil)
		}
	})
}

func (s *Server) packHandshake(uid registry.UID, csrf string, handshakeData any, firstOpen bool) (string, error) {
	payload := []any{string(uid), csrf, handshakeData, firstOpen}
	ev := event.New(event.Handshake, payload)
	return pstr.Pack(s.cfg.Packer, ev.AsSlice(), pstr.NoCB)
}

// AjaxPost handles the single POST endpoint: decode, dispatch, reply
// once, close. It never touches the registry.
func (s *Server) AjaxPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	cidStr := r.FormValue("client-id")
	if cidStr == "" {
		http.Error(w, "missing required client-id form field", http.StatusBadRequest)
		return
	}
	cid := registry.ClientID(cidStr)
	uid := s.resolveUID(r, cid)

	ppstr := r.FormValue("ppstr")
	value, cb, err := pstr.Unpack(s.cfg.Packer, ppstr)
	if err != nil {
		s.enqueue(event.BadPackageEvent(ppstr), uid, cid, nil)
		s.writeDummyCB(w)
		return
	}
	ev, ok := event.FromValue(value)
	if !ok {
		s.enqueue(event.BadEvent(value), uid, cid, nil)
		s.writeDummyCB(w)
		return
	}

	if !cb.Present() {
		s.enqueue(ev, uid, cid, nil)
		s.writeDummyCB(w)
		return
	}

	replyCh := make(chan any, 1)
	s.enqueue(ev, uid, cid, func(v any) {
		select {
		case replyCh <- v:
		default:
		}
	})

	select {
	case v := <-replyCh:
		packed, err := pstr.Pack(s.cfg.Packer, v, pstr.NoCB)
		if err != nil {
			s.log.Error("failed to pack ajax reply", "error", err)
			s.writeDummyCB(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(packed))
	case <-time.After(s.cfg.PostReplyTimeout):
		s.writeDummyCB(w)
	case <-r.Context().Done():
	}
}

func (s *Server) writeDummyCB(w http.ResponseWriter) {
	packed, err := pstr.Pack(s.cfg.Packer, event.DummyCB200, pstr.NoCB)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(packed))
}

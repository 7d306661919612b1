package server

import (
	"math/rand"
	"sync/atomic"
	"time"

	"chansock/event"
	"chansock/pstr"
	"chansock/registry"
)

// PushOptions configures a single Push call.
type PushOptions struct {
	Flush bool
}

// PushOption mutates PushOptions.
type PushOption func(*PushOptions)

// WithFlush bypasses the coalescing window and flushes immediately.
func WithFlush() PushOption {
	return func(o *PushOptions) { o.Flush = true }
}

// Push delivers ev to every connection uid owns, coalesced within the
// configured send-buffer windows. The special
// event.Close bypasses buffering entirely and closes every connection.
func (s *Server) Push(uid registry.UID, ev event.Event, opts ...PushOption) {
	var po PushOptions
	for _, o := range opts {
		o(&po)
	}

	if ev.ID == event.Close {
		if po.Flush {
			// flushNow may sleep through ajax fan-out retry rounds; keep
			// Push non-blocking and close only once the flush is done.
			go func() {
				s.flushNow(uid)
				s.closeAll(uid)
			}()
			return
		}
		s.closeAll(uid)
		return
	}

	id := atomic.AddUint64(&s.nextID, 1)
	s.appendBuffered(s.wsBuf, uid, ev, id)
	s.appendBuffered(s.ajaxBuf, uid, ev, id)

	if po.Flush {
		s.flushWS(uid, id)
		// The ajax flush may sleep through fan-out retry rounds; keep
		// Push non-blocking for its caller.
		go s.flushAjax(uid, id)
		return
	}
	time.AfterFunc(s.cfg.SendBufWS, func() { s.flushWS(uid, id) })
	time.AfterFunc(s.cfg.SendBufAjax, func() { s.flushAjax(uid, id) })
}

func (s *Server) appendBuffered(bufs map[registry.UID]*sendBuffer, uid registry.UID, ev event.Event, id uint64) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	buf := bufs[uid]
	if buf == nil {
		buf = &sendBuffer{ids: make(map[uint64]struct{})}
		bufs[uid] = buf
	}
	buf.events = append(buf.events, ev)
	buf.ids[id] = struct{}{}
}

// flushWS drains the WS buffer for uid iff id (the event that scheduled
// this flush) is still present; a timer whose event was already drained
// by an earlier flush is a no-op.
func (s *Server) flushWS(uid registry.UID, id uint64) {
	events, ok := s.takeBuffered(s.wsBuf, uid, id)
	if !ok {
		return
	}
	packed, err := s.packBatch(events)
	if err != nil {
		s.log.Error("failed to pack ws batch", "error", err, "uid", uid)
		return
	}
	for _, resp := range s.reg.WSResponders(uid) {
		if err := resp.Send(packed, false); err != nil {
			s.log.Debug("ws fan-out send failed", "error", err, "uid", uid)
		}
	}
}

func (s *Server) flushAjax(uid registry.UID, id uint64) {
	events, ok := s.takeBuffered(s.ajaxBuf, uid, id)
	if !ok {
		return
	}
	packed, err := s.packBatch(events)
	if err != nil {
		s.log.Error("failed to pack ajax batch", "error", err, "uid", uid)
		return
	}
	s.ajaxFanOutWithRetry(uid, packed)
}

func (s *Server) takeBuffered(bufs map[registry.UID]*sendBuffer, uid registry.UID, id uint64) ([]event.Event, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	buf := bufs[uid]
	if buf == nil {
		return nil, false
	}
	if _, stillPending := buf.ids[id]; !stillPending {
		return nil, false
	}
	delete(bufs, uid)
	return buf.events, true
}

// flushNow forces whatever is currently buffered for uid out immediately,
// used by Push(uid, event.Close, WithFlush()).
func (s *Server) flushNow(uid registry.UID) {
	s.bufMu.Lock()
	var wsID, ajaxID uint64
	var hasWS, hasAjax bool
	if buf := s.wsBuf[uid]; buf != nil {
		for id := range buf.ids {
			wsID, hasWS = id, true
			break
		}
	}
	if buf := s.ajaxBuf[uid]; buf != nil {
		for id := range buf.ids {
			ajaxID, hasAjax = id, true
			break
		}
	}
	s.bufMu.Unlock()

	if hasWS {
		s.flushWS(uid, wsID)
	}
	if hasAjax {
		s.flushAjax(uid, ajaxID)
	}
}

func (s *Server) closeAll(uid registry.UID) {
	for _, resp := range s.reg.WSResponders(uid) {
		resp.Close()
	}
	for _, resp := range s.reg.ClaimAjaxResponders(uid) {
		resp.Close()
	}
}

func (s *Server) packBatch(events []event.Event) (string, error) {
	batch := make([]any, len(events))
	for i, ev := range events {
		batch[i] = ev.AsSlice()
	}
	return pstr.Pack(s.cfg.Packer, batch, pstr.NoCB)
}

// ajaxFanOutWithRetry claims and delivers to every currently-polling
// client-id for uid, retrying against client-ids that were between polls
// at claim time. Retries stop after NMaxAttempts; unreached client-ids
// are dropped, matching the documented at-most-once guarantee.
func (s *Server) ajaxFanOutWithRetry(uid registry.UID, packed string) {
	remaining := s.reg.AjaxClientIDs(uid)

	for attempt := 0; attempt < s.cfg.NMaxAttempts && len(remaining) > 0; attempt++ {
		claimed := s.reg.ClaimAjaxRespondersFor(uid, remaining)
		if len(claimed) > 0 {
			next := remaining[:0]
			for _, cid := range remaining {
				if resp, ok := claimed[cid]; ok {
					if err := resp.Send(packed, true); err != nil {
						s.log.Debug("ajax fan-out send failed", "error", err, "uid", uid, "client_id", cid)
					}
				} else {
					next = append(next, cid)
				}
			}
			remaining = next
		}
		if len(remaining) == 0 || attempt == s.cfg.NMaxAttempts-1 {
			break
		}
		time.Sleep(s.cfg.MsBase + time.Duration(rand.Int63n(int64(s.cfg.MsRand)+1)))
	}

	if len(remaining) > 0 {
		s.log.Debug("ajax fan-out exhausted retries", "uid", uid, "unreached", len(remaining))
	}
}

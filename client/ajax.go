package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chansock/event"
	"chansock/pstr"
)

// ajaxEngine is the Ajax long-poll transport: a poll
// loop holding a GET open up to lp-timeout-ms, plus ad-hoc POST sends.
type ajaxEngine struct {
	deps *coreDeps

	mu      sync.Mutex
	gen     uint64
	stopped bool
}

func newAjaxEngine(deps *coreDeps) *ajaxEngine {
	return &ajaxEngine{deps: deps}
}

func cacheBuster() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func ajaxURL(cfg Config, clientID string, extra map[string]string) (string, error) {
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client-id", clientID)
	q.Set("cache-buster", cacheBuster())
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *ajaxEngine) connect() {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.stopped = false
	e.mu.Unlock()
	go e.pollLoop(gen)
}

func (e *ajaxEngine) pollLoop(gen uint64) {
	attempt := 0
	for {
		e.mu.Lock()
		if e.gen != gen || e.stopped {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		needsHandshake := !e.deps.state.Get().Open
		extra := map[string]string{}
		if needsHandshake {
			extra["handshake"] = "true"
		}
		reqURL, err := ajaxURL(e.deps.cfg, e.deps.clientID, extra)
		if err != nil {
			e.deps.log.Error("client: invalid ajax url", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.deps.cfg.LPTimeoutMs)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		resp, err := e.deps.cfg.HTTPClient.Do(req)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				attempt = 0 // timeout is expected, not a failure; repoll immediately.
				continue
			}
			publishState(e.deps, func(s *SocketState) { s.Open = false })
			attempt++
			time.Sleep(e.deps.cfg.BackoffMsFn(attempt))
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil || resp.StatusCode != http.StatusOK {
			publishState(e.deps, func(s *SocketState) { s.Open = false })
			attempt++
			time.Sleep(e.deps.cfg.BackoffMsFn(attempt))
			continue
		}

		e.handleFrame(string(body))
		attempt = 0
	}
}

func (e *ajaxEngine) handleFrame(raw string) {
	value, _, err := pstr.Unpack(e.deps.cfg.Packer, raw)
	if err != nil {
		deliverEvent(e.deps, event.New(event.WSError, err.Error()))
		return
	}
	ev, ok := event.FromValue(value)
	if ok && ev.ID == event.Handshake {
		applyHandshake(e.deps, "ajax", ev.Payload)
		return
	}
	deliverBatch(e.deps, value)
}

func (e *ajaxEngine) disconnect(reconnect bool) {
	e.mu.Lock()
	e.gen++ // invalidate the running poll loop
	e.mu.Unlock()

	publishState(e.deps, func(s *SocketState) { s.Open = false })

	if reconnect {
		e.connect()
	}
}

func (e *ajaxEngine) stop() {
	e.mu.Lock()
	e.stopped = true
	e.gen++
	e.mu.Unlock()
	publishState(e.deps, func(s *SocketState) { s.Open = false })
}

// send issues a POST carrying {client-id, ppstr,
// csrf-token, cache-buster} and an X-CSRF-Token header. The Ajax
// callback marker is always the "0" sentinel (pstr.AjaxCB) rather than a
// ws-style cb-uuid, since the POST response itself is the correlation
// channel.
func (e *ajaxEngine) send(ev event.Event, reply ReplyFunc, timeout time.Duration) {
	state := e.deps.state.Get()
	if !state.Open {
		if reply != nil {
			reply(event.Closed)
		}
		return
	}

	cb := pstr.NoCB
	if reply != nil {
		cb = pstr.AjaxCB
	}
	packed, err := pstr.Pack(e.deps.cfg.Packer, ev.AsSlice(), cb)
	if err != nil {
		if reply != nil {
			reply(event.ErrSentinel)
		}
		return
	}

	form := url.Values{}
	form.Set("client-id", e.deps.clientID)
	form.Set("ppstr", packed)
	form.Set("csrf-token", state.CSRFToken)
	form.Set("cache-buster", cacheBuster())

	reqURL, err := ajaxURL(e.deps.cfg, e.deps.clientID, nil)
	if err != nil {
		if reply != nil {
			reply(event.ErrSentinel)
		}
		return
	}

	// A fire-and-forget send (no reply requested) carries no correlation
	// timeout of its own; bound the round trip with the configured
	// long-poll timeout instead of racing context.WithTimeout against a
	// zero duration.
	reqTimeout := timeout
	if reqTimeout <= 0 {
		reqTimeout = e.deps.cfg.LPTimeoutMs
	}
	ctx, cancel := context.WithTimeout(context.Background(), reqTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		if reply != nil {
			reply(event.ErrSentinel)
		}
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF-Token", state.CSRFToken)

	resp, err := e.deps.cfg.HTTPClient.Do(req)
	if err != nil {
		if reply != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				reply(event.Timeout)
			} else {
				reply(event.ErrSentinel)
			}
		}
		return
	}
	defer resp.Body.Close()

	if reply == nil {
		io.Copy(io.Discard, resp.Body)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		reply(event.ErrSentinel)
		return
	}
	value, _, err := pstr.Unpack(e.deps.cfg.Packer, string(body))
	if err != nil {
		reply(event.ErrSentinel)
		return
	}
	if s, ok := value.(string); ok && s == event.DummyCB200 {
		return // fire-and-forget acknowledgment; no reply expected.
	}
	reply(value)
}

package client

import (
	"sync"
	"time"

	"chansock/event"
)

// autoEngine wraps a swappable inner transport, starting with WS and
// downgrading permanently to Ajax on the first WS error.
// Both engines share the same coreDeps (state cell, delivery
// channel, waiters), so watchers see one continuous state stream across
// the downgrade.
type autoEngine struct {
	deps *coreDeps

	mu         sync.Mutex
	current    engine
	downgraded bool
}

func newAutoEngine(deps *coreDeps) *autoEngine {
	a := &autoEngine{deps: deps}
	a.current = newWSEngine(deps, a.downgrade)
	return a
}

// downgrade is installed as the ws engine's onFirstError hook. It
// replaces current with a fresh Ajax engine and connects it; it never
// fires twice because wsEngine clears its own onFirstError reference
// after the first invocation, and autoEngine additionally guards with
// downgraded so a racing second call is a no-op.
func (a *autoEngine) downgrade(err error) {
	a.mu.Lock()
	if a.downgraded {
		a.mu.Unlock()
		return
	}
	a.downgraded = true
	ajaxEng := newAjaxEngine(a.deps)
	a.current = ajaxEng
	a.mu.Unlock()

	a.deps.log.Warn("client: ws failed, downgrading to ajax", "error", err)
	ajaxEng.connect()
}

func (a *autoEngine) inner() engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *autoEngine) connect()                  { a.inner().connect() }
func (a *autoEngine) disconnect(reconnect bool) { a.inner().disconnect(reconnect) }
func (a *autoEngine) stop()                     { a.inner().stop() }
func (a *autoEngine) send(ev event.Event, reply ReplyFunc, t time.Duration) {
	a.inner().send(ev, reply, t)
}

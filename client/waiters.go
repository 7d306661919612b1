package client

import (
	"sync"
	"time"

	"chansock/pstr"
)

// ReplyFunc receives either the application's reply value or one of the
// callback sentinels (event.Closed, event.Timeout, event.ErrSentinel).
type ReplyFunc func(v any)

type waiterEntry struct {
	fn    ReplyFunc
	timer *time.Timer
}

// waiterMap holds outstanding reply waiters: "resolve at most
// once" is enforced by deleting the entry under the lock before the
// first resolver ever invokes fn — a second resolveOnce for the same id
// finds nothing and is a no-op.
type waiterMap struct {
	mu sync.Mutex
	m  map[pstr.CB]*waiterEntry
}

func newWaiterMap() *waiterMap {
	return &waiterMap{m: make(map[pstr.CB]*waiterEntry)}
}

// register records fn against cb and arms a timeout that resolves with
// timeoutValue if no reply arrives first. A non-positive timeout leaves
// the waiter armed until a reply or transport failure resolves it.
func (w *waiterMap) register(cb pstr.CB, fn ReplyFunc, timeout time.Duration, timeoutValue any) {
	entry := &waiterEntry{fn: fn}
	w.mu.Lock()
	w.m[cb] = entry
	w.mu.Unlock()

	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			w.resolveOnce(cb, timeoutValue)
		})
	}
}

// resolveOnce delivers v to the waiter registered under cb, if any, and
// removes it. Safe to call more than once for the same cb; only the
// first call has any effect.
func (w *waiterMap) resolveOnce(cb pstr.CB, v any) {
	w.mu.Lock()
	entry, ok := w.m[cb]
	if ok {
		delete(w.m, cb)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.fn(v)
}

// failAll resolves every outstanding waiter with v, used when the
// transport closes and every pending request can never receive its reply.
func (w *waiterMap) failAll(v any) {
	w.mu.Lock()
	entries := make([]*waiterEntry, 0, len(w.m))
	for cb, entry := range w.m {
		entries = append(entries, entry)
		delete(w.m, cb)
	}
	w.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.fn(v)
	}
}

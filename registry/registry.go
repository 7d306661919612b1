// Package registry tracks the server-side (uid, client-id) -> connection
// maps for both transports and derives the connected-users view. Every
// mutation computes a next snapshot, installs it atomically, and returns
// an edge observation the caller acts on outside the lock. No lock is
// ever held across network I/O.
package registry

import (
	"sync"
	"time"

	"chansock/transport"
	"chansock/watch"
)

// UID is an application-assigned user identity, the push address.
type UID string

// NilUID is the sentinel substituted when user-id-fn returns no identity.
const NilUID UID = "chsk/nil-uid"

// ClientID is a per-browser-tab identifier supplied by the client.
type ClientID string

// ConnectedUsers is the derived presence triple. The invariant
// ws ∪ ajax = any is maintained by construction, never checked.
type ConnectedUsers struct {
	WS   map[UID]struct{}
	Ajax map[UID]struct{}
	Any  map[UID]struct{}
}

func emptyConnectedUsers() ConnectedUsers {
	return ConnectedUsers{
		WS:   make(map[UID]struct{}),
		Ajax: make(map[UID]struct{}),
		Any:  make(map[UID]struct{}),
	}
}

// ajaxSlot is the (server-channel?, last-connected-timestamp) pair kept
// per ajax client-id. Responder is nil between polls.
type ajaxSlot struct {
	responder     transport.Responder
	lastConnected time.Time
}

// Registry owns the ws/ajax maps and publishes the derived view.
type Registry struct {
	mu   sync.Mutex
	ws   map[UID]map[ClientID]transport.Responder
	ajax map[UID]map[ClientID]*ajaxSlot

	view *watch.Watchable[ConnectedUsers]
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		ws:   make(map[UID]map[ClientID]transport.Responder),
		ajax: make(map[UID]map[ClientID]*ajaxSlot),
		view: watch.NewWatchable(emptyConnectedUsers()),
	}
}

// View returns the watchable connected-users value.
func (r *Registry) View() *watch.Watchable[ConnectedUsers] { return r.view }

// ConnectedUsers returns the current connected-users snapshot.
func (r *Registry) ConnectedUsers() ConnectedUsers { return r.view.Get() }

// IsPresent reports whether uid currently has any connection at all.
func (r *Registry) IsPresent(uid UID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presentLocked(uid)
}

func (r *Registry) presentLocked(uid UID) bool {
	if m := r.ws[uid]; len(m) > 0 {
		return true
	}
	if m := r.ajax[uid]; len(m) > 0 {
		return true
	}
	return false
}

// recomputeLocked rebuilds the connected-users snapshot from the current
// maps and publishes it. Must be called with mu held; the publish happens
// after Set (outside any I/O, but still technically under mu — Set itself
// never performs I/O, only channel sends to subscribers, matching the
// "no lock across network I/O" rule since subscriber delivery is
// non-blocking by construction).
func (r *Registry) recomputeLocked() ConnectedUsers {
	next := emptyConnectedUsers()
	for uid, m := range r.ws {
		if len(m) > 0 {
			next.WS[uid] = struct{}{}
			next.Any[uid] = struct{}{}
		}
	}
	for uid, m := range r.ajax {
		if len(m) > 0 {
			next.Ajax[uid] = struct{}{}
			next.Any[uid] = struct{}{}
		}
	}
	r.view.Set(next)
	return next
}

// OpenWS registers a new WebSocket connection. firstOpen reports whether
// this is the first connection of any kind for uid (the uidport-open
// edge).
func (r *Registry) OpenWS(uid UID, cid ClientID, resp transport.Responder) (firstOpen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasPresent := r.presentLocked(uid)
	if r.ws[uid] == nil {
		r.ws[uid] = make(map[ClientID]transport.Responder)
	}
	r.ws[uid][cid] = resp
	r.recomputeLocked()
	return !wasPresent
}

// CloseWS removes a WebSocket connection immediately. The caller is
// responsible for the 5-second grace + live recheck before emitting
// uidport-close: "still disconnected N seconds later" is a live recheck,
// not a timestamp comparison.
func (r *Registry) CloseWS(uid UID, cid ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m := r.ws[uid]; m != nil {
		delete(m, cid)
		if len(m) == 0 {
			delete(r.ws, uid)
		}
	}
	r.recomputeLocked()
}

// OpenAjax registers or refreshes an Ajax long-poll connection. firstOpen
// mirrors OpenWS.
func (r *Registry) OpenAjax(uid UID, cid ClientID, resp transport.Responder, now time.Time) (firstOpen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasPresent := r.presentLocked(uid)
	if r.ajax[uid] == nil {
		r.ajax[uid] = make(map[ClientID]*ajaxSlot)
	}
	r.ajax[uid][cid] = &ajaxSlot{responder: resp, lastConnected: now}
	r.recomputeLocked()
	return !wasPresent
}

// ReleaseAjaxResponder replaces the slot's responder with nil (the GET
// completed or the request was claimed for a push) while retaining the
// record for the 5-second grace. It does NOT remove presence
// immediately — ExpireAjaxIfStale does that after the grace period.
func (r *Registry) ReleaseAjaxResponder(uid UID, cid ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m := r.ajax[uid]; m != nil {
		if slot, ok := m[cid]; ok {
			slot.responder = nil
		}
	}
	r.recomputeLocked()
}

// ExpireAjaxIfStale removes the (uid, cid) ajax record if its
// lastConnected has not advanced past staleIfBefore. "No reconnect since
// disconnect" is a timestamp comparison here, distinct from the WS live
// recheck in CloseWS's caller: long-poll rollover would otherwise read
// as a false disconnect.
func (r *Registry) ExpireAjaxIfStale(uid UID, cid ClientID, staleIfBefore time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ajax[uid]
	if m == nil {
		return
	}
	slot, ok := m[cid]
	if !ok {
		return
	}
	if slot.lastConnected.After(staleIfBefore) {
		return // reconnected since disconnect; not stale
	}
	delete(m, cid)
	if len(m) == 0 {
		delete(r.ajax, uid)
	}
	r.recomputeLocked()
}

// AjaxLastConnected returns the lastConnected timestamp recorded for
// (uid, cid), used by the caller to capture staleIfBefore at disconnect
// time before scheduling ExpireAjaxIfStale.
func (r *Registry) AjaxLastConnected(uid UID, cid ClientID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ajax[uid]
	if m == nil {
		return time.Time{}, false
	}
	slot, ok := m[cid]
	if !ok {
		return time.Time{}, false
	}
	return slot.lastConnected, true
}

// WSResponders returns a snapshot slice of the currently open WS
// responders for uid, safe to send to without holding the registry lock.
func (r *Registry) WSResponders(uid UID) []transport.Responder {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ws[uid]
	out := make([]transport.Responder, 0, len(m))
	for _, resp := range m {
		out = append(out, resp)
	}
	return out
}

// AjaxClientIDs returns a snapshot of the client-ids currently recorded
// for uid (responder present or not), used to seed a fan-out retry's
// target set at the moment a buffered batch is flushed.
func (r *Registry) AjaxClientIDs(uid UID) []ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ajax[uid]
	out := make([]ClientID, 0, len(m))
	for cid := range m {
		out = append(out, cid)
	}
	return out
}

// ClaimAjaxRespondersFor is like ClaimAjaxResponders but restricted to a
// caller-supplied set of client-ids, so a multi-round fan-out retry never
// re-delivers to a client-id it already satisfied in an earlier round.
func (r *Registry) ClaimAjaxRespondersFor(uid UID, ids []ClientID) map[ClientID]transport.Responder {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ajax[uid]
	if m == nil {
		return nil
	}
	out := make(map[ClientID]transport.Responder)
	for _, cid := range ids {
		slot, ok := m[cid]
		if !ok || slot.responder == nil {
			continue
		}
		out[cid] = slot.responder
		slot.responder = nil
	}
	return out
}

// ClaimAjaxResponders atomically nils out and returns the responders for
// every currently-claimable (non-nil) ajax slot belonging to uid, the
// claim step of long-poll fan-out. Once claimed, a slot's responder is
// gone, so a concurrent push round cannot double-send to the same held
// request.
func (r *Registry) ClaimAjaxResponders(uid UID) []transport.Responder {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ajax[uid]
	out := make([]transport.Responder, 0, len(m))
	for _, slot := range m {
		if slot.responder != nil {
			out = append(out, slot.responder)
			slot.responder = nil
		}
	}
	return out
}

// Package event defines the wire-level event shape exchanged over a channel
// socket: a namespaced identifier plus an optional payload.
package event

import "strings"

// SystemNamespace is reserved for events the library itself emits or
// synthesizes. Applications must not publish events in this namespace.
const SystemNamespace = "chsk"

// Reserved system event ids.
const (
	Handshake    = "chsk/handshake"
	State        = "chsk/state"
	Recv         = "chsk/recv"
	WSError      = "chsk/ws-error"
	Close        = "chsk/close"
	WSPing       = "chsk/ws-ping"
	UIDPortOpen  = "chsk/uidport-open"
	UIDPortClose = "chsk/uidport-close"
	BadPackage   = "chsk/bad-package"
	BadEventID   = "chsk/bad-event"
	DummyCB200   = "chsk/dummy-cb-200"
)

// Callback sentinels: non-event values a client reply callback may
// receive instead of an application reply.
const (
	Closed      = "chsk/closed"
	Timeout     = "chsk/timeout"
	ErrSentinel = "chsk/error"
)

// Event is the ordered pair [id, payload?] described in the data model: id is
// a namespaced symbol (e.g. "app/login"), payload is whatever the codec can
// serialize.
type Event struct {
	ID      string
	Payload any
	HasPay  bool
}

// New builds an event with a payload.
func New(id string, payload any) Event {
	return Event{ID: id, Payload: payload, HasPay: true}
}

// NewNoPayload builds an event carrying no payload.
func NewNoPayload(id string) Event {
	return Event{ID: id}
}

// IsNamespaced reports whether id has the form "namespace/name" with both
// segments non-empty.
func IsNamespaced(id string) bool {
	if id == "" {
		return false
	}
	i := strings.IndexByte(id, '/')
	if i <= 0 || i == len(id)-1 {
		return false
	}
	return true
}

// Namespace returns the namespace segment of id, or "" if id is not
// namespaced.
func Namespace(id string) string {
	i := strings.IndexByte(id, '/')
	if i <= 0 {
		return ""
	}
	return id[:i]
}

// IsSystem reports whether id belongs to the reserved chsk/* namespace.
func IsSystem(id string) bool {
	return Namespace(id) == SystemNamespace
}

// AsSlice renders the event back into the [id, payload?] shape a codec
// marshals, mirroring how it arrived over the wire.
func (e Event) AsSlice() []any {
	if !e.HasPay {
		return []any{e.ID}
	}
	return []any{e.ID, e.Payload}
}

// FromValue validates a decoded wire value against the [id, payload?] shape.
// It never errors: a value that doesn't fit is the caller's cue to call
// BadEvent instead, per the "any value crossing the boundary either satisfies
// the event shape or is wrapped" invariant.
func FromValue(v any) (Event, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 || len(arr) > 2 {
		return Event{}, false
	}
	id, ok := arr[0].(string)
	if !ok || !IsNamespaced(id) {
		return Event{}, false
	}
	if len(arr) == 1 {
		return NewNoPayload(id), true
	}
	return New(id, arr[1]), true
}

// BadEvent wraps an invalid incoming value as a chsk/bad-event system event
// rather than failing the connection.
func BadEvent(original any) Event {
	return New(BadEventID, original)
}

// BadPackageEvent wraps a codec failure as a chsk/bad-package system event.
func BadPackageEvent(raw string) Event {
	return New(BadPackage, raw)
}

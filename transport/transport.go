// Package transport defines the contract an HTTP adapter must satisfy to
// plug an incoming request into the channel-socket server: a responder
// that can send and close, plus open/message/close lifecycle hooks.
package transport

import "context"

// Responder is the async response object a web server integration
// constructs from an incoming request. It is the only interface the
// server package needs to drive either a WebSocket connection or a held
// Ajax long-poll response.
type Responder interface {
	// Send writes msg (a packed pstr) to the underlying connection. If
	// closeAfter is true the responder is closed once the write completes
	// (the long-poll contract: one batch per response).
	Send(msg string, closeAfter bool) error

	// Close terminates the underlying connection/response if still open.
	// Idempotent.
	Close() error

	// Context is cancelled when the underlying connection/response ends,
	// for either side's reason.
	Context() context.Context
}

// Hooks are registered by the server against a Responder immediately
// after construction. The adapter invokes them at the appropriate point
// in the connection lifecycle.
type Hooks struct {
	// OnOpen fires once the responder is ready to send/receive. The
	// responder is passed back so a hook built before construction
	// completes (the common case, since hooks are supplied to the
	// constructor) never races a partially-built value.
	OnOpen func(r Responder)

	// OnMessage fires once per inbound frame (WS only; Ajax POST bypasses
	// this and is dispatched directly by the server's POST handler).
	OnMessage func(r Responder, raw string)

	// OnClose fires exactly once when the underlying connection/response
	// ends, regardless of which side initiated it.
	OnClose func(r Responder)
}

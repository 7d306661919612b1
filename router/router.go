// Package router drains a receive queue sequentially and dispatches each
// message to an application handler, isolating handler panics from the
// loop itself.
package router

import (
	"log/slog"
	"sync"
)

// Options configures Start.
type Options struct {
	// ErrorHandler receives a recovered panic value plus the message
	// that triggered it. Falls back to logging via Logger when nil.
	ErrorHandler func(recovered any, msg any)

	Logger *slog.Logger
}

// Start consumes recv sequentially, invoking handler(msg) for each
// message. A panic inside handler is recovered and routed to
// opts.ErrorHandler (or logged) without stopping the loop. Returns a
// stop func that signals the loop to exit at its next opportunity. Start
// returns immediately; the loop runs in a new goroutine.
func Start[T any](recv <-chan T, handler func(T), opts Options) (stop func()) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-recv:
				if !ok {
					return
				}
				dispatch(msg, handler, opts)
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

func dispatch[T any](msg T, handler func(T), opts Options) {
	defer func() {
		if r := recover(); r != nil {
			if opts.ErrorHandler != nil {
				opts.ErrorHandler(r, msg)
				return
			}
			opts.Logger.Error("router: handler panicked", "recovered", r, "message", msg)
		}
	}()
	handler(msg)
}

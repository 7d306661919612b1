package server

import (
	"log/slog"
	"net/http"
	"time"

	"chansock/codec"
	"chansock/registry"
)

// Config is the server factory configuration. It is a
// plain struct, not a viper-backed type — a library should not impose a
// config framework on its caller; the demo binary that wires viper in
// sits at cmd/chatdemo, one layer up.
type Config struct {
	// RecvBufOrN sizes the receive queue. Under backpressure the queue
	// drops the newest incoming event and logs a warning rather than
	// blocking a transport goroutine.
	RecvBufOrN int

	SendBufWS   time.Duration
	SendBufAjax time.Duration

	// WSConnGC is the liveness watchdog interval; must exceed the
	// client's ws-kalive-ms.
	WSConnGC time.Duration

	// AjaxHoldMax bounds how long a long-poll GET is held server-side as
	// a defensive backstop if the client's own lp-timeout-ms never fires
	// (e.g. a broken client). The long-poll timeout proper belongs to
	// the client side; this is a safety net only.
	AjaxHoldMax time.Duration

	// PostReplyTimeout bounds how long an Ajax POST handler blocks
	// waiting for the application's reply before falling back to the
	// dummy-cb-200 sentinel.
	PostReplyTimeout time.Duration

	NMaxAttempts int
	MsBase       time.Duration
	MsRand       time.Duration

	UserIDFn        func(r *http.Request, cid registry.ClientID) registry.UID
	CSRFTokenFn     func(r *http.Request) string
	HandshakeDataFn func(r *http.Request) any

	Packer codec.Codec
	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufOrN:       1000,
		SendBufWS:        30 * time.Millisecond,
		SendBufAjax:      100 * time.Millisecond,
		WSConnGC:         40 * time.Second,
		AjaxHoldMax:      30 * time.Second,
		PostReplyTimeout: 5 * time.Second,
		NMaxAttempts:     7,
		MsBase:           90 * time.Millisecond,
		MsRand:           90 * time.Millisecond,
		Packer:           codec.NewJSON(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecvBufOrN == 0 {
		c.RecvBufOrN = d.RecvBufOrN
	}
	if c.SendBufWS == 0 {
		c.SendBufWS = d.SendBufWS
	}
	if c.SendBufAjax == 0 {
		c.SendBufAjax = d.SendBufAjax
	}
	if c.WSConnGC == 0 {
		c.WSConnGC = d.WSConnGC
	}
	if c.AjaxHoldMax == 0 {
		c.AjaxHoldMax = d.AjaxHoldMax
	}
	if c.PostReplyTimeout == 0 {
		c.PostReplyTimeout = d.PostReplyTimeout
	}
	if c.NMaxAttempts == 0 {
		c.NMaxAttempts = d.NMaxAttempts
	}
	if c.MsBase == 0 {
		c.MsBase = d.MsBase
	}
	if c.MsRand == 0 {
		c.MsRand = d.MsRand
	}
	if c.Packer == nil {
		c.Packer = d.Packer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Package client implements the channel-socket client: Auto/WS/Ajax
// transports sharing one state machine, reconnect backoff, and reply
// correlation. The "browser client" here is an importable library rather
// than JS running in a browser, so its transports are plain Go code
// dialing gorilla/websocket or issuing net/http requests instead of
// wrapping browser APIs.
package client

import (
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chansock/codec"
	"chansock/event"
	"chansock/watch"
)

// Config is the client factory configuration.
type Config struct {
	// Type selects the transport: "auto" (default), "ws", or "ajax".
	Type string

	// Host is the base URL of the channel-socket endpoint, e.g.
	// "http://localhost:8080/chsk". The ws engine derives the ws(s)://
	// scheme from it; the ajax engine uses it as-is.
	Host string

	// Params are extra query parameters included on every request.
	Params map[string]string

	WSKaliveMs  time.Duration
	LPTimeoutMs time.Duration

	// BackoffMsFn computes the delay before reconnect attempt n (1-based).
	BackoffMsFn func(n int) time.Duration

	Packer codec.Codec

	// ClientID is the explicit per-tab identifier; a uuid is generated
	// when empty.
	ClientID string

	// WrapRecvEvs, when true, delivers [chsk/recv, event] instead of the
	// bare event on Receive() for application events; the client's own
	// chsk/* notifications (such as chsk/state) are delivered unwrapped.
	WrapRecvEvs bool

	// HTTPClient is used by the ajax engine; defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultBackoff is an exponential backoff (1.5^n seconds, capped at 30s)
// plus up to 50% random jitter on top, so a delay never exceeds 45s.
func DefaultBackoff(n int) time.Duration {
	base := float64(time.Second) * math.Pow(1.5, float64(n))
	if base > float64(30*time.Second) {
		base = float64(30 * time.Second)
	}
	jitter := rand.Int63n(int64(base)/2 + 1)
	return time.Duration(base) + time.Duration(jitter)
}

func (c Config) withDefaults() Config {
	if c.Type == "" {
		c.Type = "auto"
	}
	if c.WSKaliveMs == 0 {
		c.WSKaliveMs = 30 * time.Second
	}
	if c.LPTimeoutMs == 0 {
		c.LPTimeoutMs = 20 * time.Second
	}
	if c.BackoffMsFn == nil {
		c.BackoffMsFn = DefaultBackoff
	}
	if c.Packer == nil {
		c.Packer = codec.NewJSON()
	}
	if c.ClientID == "" {
		c.ClientID = uuid.New().String()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// coreDeps is shared by every engine implementation so ws/ajax/auto never
// duplicate the state cell, delivery channel, or waiter map.
type coreDeps struct {
	cfg        Config
	clientID   string
	state      *watch.Watchable[SocketState]
	deliveries chan event.Event
	waiters    *waiterMap
	log        *slog.Logger
}

// engine is the internal transport contract the three client transports
// satisfy; Client delegates every public operation to its current engine.
type engine interface {
	connect()
	disconnect(reconnect bool)
	send(ev event.Event, reply ReplyFunc, timeout time.Duration)
	stop()
}

// Client is the public channel-socket client handle.
type Client struct {
	cfg      Config
	clientID string
	deps     *coreDeps
	eng      engine
}

// New constructs a Client for the given configuration. It does not
// connect; call Connect to start.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	deps := &coreDeps{
		cfg:        cfg,
		clientID:   cfg.ClientID,
		state:      watch.NewWatchable(SocketState{Transport: cfg.Type}),
		deliveries: make(chan event.Event, 256),
		waiters:    newWaiterMap(),
		log:        cfg.Logger,
	}

	c := &Client{cfg: cfg, clientID: cfg.ClientID, deps: deps}
	switch cfg.Type {
	case "ws":
		c.eng = newWSEngine(deps, nil)
	case "ajax":
		c.eng = newAjaxEngine(deps)
	default:
		c.eng = newAutoEngine(deps)
	}
	return c
}

// ClientID returns the per-tab identifier this client uses on every
// request.
func (c *Client) ClientID() string { return c.clientID }

// Connect starts the transport's connection attempt.
func (c *Client) Connect() { c.eng.connect() }

// Disconnect tears down the current connection, optionally reconnecting
// immediately. It invalidates any pending reconnect timer first, per the
// retry-id monotonicity invariant.
func (c *Client) Disconnect(reconnect bool) { c.eng.disconnect(reconnect) }

// Close permanently shuts the client down; no further reconnects occur.
func (c *Client) Close() { c.eng.stop() }

// Send transmits ev, invoking reply (if non-nil) with the application's
// response or a callback sentinel. timeout bounds how long to wait for a
// reply before resolving with event.Timeout.
func (c *Client) Send(ev event.Event, reply ReplyFunc, timeout time.Duration) {
	c.eng.send(ev, reply, timeout)
}

// State returns the watchable socket state.
func (c *Client) State() *watch.Watchable[SocketState] { return c.deps.state }

// Receive returns the channel the application drains for both
// server-pushed application events and internal chsk/state notifications.
func (c *Client) Receive() <-chan event.Event { return c.deps.deliveries }

func deliverEvent(deps *coreDeps, ev event.Event) {
	out := ev
	if deps.cfg.WrapRecvEvs && !event.IsSystem(ev.ID) {
		out = event.New(event.Recv, ev)
	}
	select {
	case deps.deliveries <- out:
	default:
		deps.log.Warn("client receive channel full, dropping event", "event", ev.ID)
	}
}

func publishState(deps *coreDeps, mutate func(*SocketState)) SocketState {
	cur := deps.state.Get()
	mutate(&cur)
	deps.state.Set(cur)
	deliverEvent(deps, event.New(event.State, cur))
	return cur
}

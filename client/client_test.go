package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chansock/event"
	"chansock/registry"
	"chansock/server"
)

func newTestBackend(t *testing.T, uid registry.UID, handle func(server.EventMsg)) (*server.Server, *httptest.Server) {
	t.Helper()
	srv := server.New(server.Config{
		UserIDFn: func(r *http.Request, cid registry.ClientID) registry.UID { return uid },
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chsk", srv.HandshakeOrPoll)
	mux.HandleFunc("POST /chsk", srv.AjaxPost)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	go func() {
		for msg := range srv.Receive() {
			if handle != nil {
				handle(msg)
			}
		}
	}()
	return srv, ts
}

func TestClientWSConnectAndEcho(t *testing.T) {
	_, ts := newTestBackend(t, "u1", func(msg server.EventMsg) {
		if msg.Event.ID == "app/ping" && msg.Reply != nil {
			msg.Reply("pong")
		}
	})

	c := New(Config{Type: "ws", Host: ts.URL + "/chsk"})
	c.Connect()
	defer c.Close()

	require.Eventually(t, func() bool { return c.State().Get().Open }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.State().Get().EverOpened)

	replyCh := make(chan any, 1)
	c.Send(event.New("app/ping", float64(1)), func(v any) { replyCh <- v }, time.Second)

	select {
	case v := <-replyCh:
		assert.Equal(t, "pong", v)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply received")
	}
}

func TestClientWSTimeoutWhenServerNeverReplies(t *testing.T) {
	_, ts := newTestBackend(t, "u2", nil) // app never replies to anything

	c := New(Config{Type: "ws", Host: ts.URL + "/chsk"})
	c.Connect()
	defer c.Close()

	require.Eventually(t, func() bool { return c.State().Get().Open }, 2*time.Second, 10*time.Millisecond)

	replyCh := make(chan any, 1)
	c.Send(event.New("app/slow", nil), func(v any) { replyCh <- v }, 50*time.Millisecond)

	select {
	case v := <-replyCh:
		assert.Equal(t, event.Timeout, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout sentinel never delivered")
	}
}

func TestClientReceivesPushedEvents(t *testing.T) {
	srv, ts := newTestBackend(t, "u3", nil)

	c := New(Config{Type: "ws", Host: ts.URL + "/chsk"})
	c.Connect()
	defer c.Close()

	require.Eventually(t, func() bool { return c.State().Get().Open }, 2*time.Second, 10*time.Millisecond)

	srv.Push(registry.UID("u3"), event.New("a/hello", "world"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Receive():
			if ev.ID == "a/hello" {
				assert.Equal(t, "world", ev.Payload)
				return
			}
		case <-deadline:
			t.Fatal("pushed event never arrived")
		}
	}
}

func TestClientAjaxConnectAndEcho(t *testing.T) {
	_, ts := newTestBackend(t, "u4", func(msg server.EventMsg) {
		if msg.Event.ID == "app/ping" && msg.Reply != nil {
			msg.Reply("pong")
		}
	})

	c := New(Config{Type: "ajax", Host: ts.URL + "/chsk", LPTimeoutMs: 200 * time.Millisecond})
	c.Connect()
	defer c.Close()

	require.Eventually(t, func() bool { return c.State().Get().Open }, 2*time.Second, 10*time.Millisecond)

	replyCh := make(chan any, 1)
	c.Send(event.New("app/ping", float64(1)), func(v any) { replyCh <- v }, time.Second)

	select {
	case v := <-replyCh:
		assert.Equal(t, "pong", v)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply received")
	}
}

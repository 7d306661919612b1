package nethttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chansock/transport"
)

func TestUpgradeWSEchoesAndFiresHooks(t *testing.T) {
	var opened, closed int32
	var mu sync.Mutex
	var received []string

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		hooks := transport.Hooks{
			OnOpen: func(resp transport.Responder) { opened++ },
			OnMessage: func(resp transport.Responder, raw string) {
				mu.Lock()
				received = append(received, raw)
				mu.Unlock()
				resp.Send("echo:"+raw, false)
			},
			OnClose: func(resp transport.Responder) { closed++ },
		}
		_, err := UpgradeWS(w, r, hooks, time.Second, nil)
		require.NoError(t, err)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply))

	conn.Close()
	// Give the server's readPump a moment to observe the close and fire
	// the OnClose hook.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), opened)
	assert.Equal(t, int32(1), closed)
	mu.Lock()
	assert.Equal(t, []string{"hello"}, received)
	mu.Unlock()
}

func TestWSResponderSendAfterCloseFails(t *testing.T) {
	mux := http.NewServeMux()
	responderCh := make(chan transport.Responder, 1)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		resp, err := UpgradeWS(w, r, transport.Hooks{}, time.Second, nil)
		require.NoError(t, err)
		responderCh <- resp
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := <-responderCh
	require.NoError(t, resp.Close())
	assert.Error(t, resp.Send("too late", false))
}

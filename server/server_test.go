package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chansock/codec"
	"chansock/event"
	"chansock/pstr"
	"chansock/registry"
)

func newTestServer(t *testing.T, uid registry.UID) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{
		UserIDFn: func(r *http.Request, cid registry.ClientID) registry.UID { return uid },
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chsk", srv.HandshakeOrPoll)
	mux.HandleFunc("POST /chsk", srv.AjaxPost)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(httpURL, clientID string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/chsk?client-id=" + clientID
}

func readHandshake(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	value, cb, err := pstr.Unpack(codec.NewJSON(), string(data))
	require.NoError(t, err)
	assert.Equal(t, pstr.NoCB, cb)
	ev, ok := event.FromValue(value)
	require.True(t, ok)
	assert.Equal(t, event.Handshake, ev.ID)
	return ev
}

func TestWSConnectAndEcho(t *testing.T) {
	srv, ts := newTestServer(t, "u1")

	appDone := make(chan struct{})
	go func() {
		for msg := range srv.Receive() {
			if msg.Event.ID == "app/ping" && msg.Reply != nil {
				msg.Reply("pong")
				close(appDone)
				return
			}
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "c1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	readHandshake(t, conn)

	packed, err := pstr.Pack(codec.NewJSON(), event.New("app/ping", 1).AsSlice(), pstr.CB("cb1"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(packed)))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	val, cb, err := pstr.Unpack(codec.NewJSON(), string(reply))
	require.NoError(t, err)
	assert.Equal(t, pstr.CB("cb1"), cb)
	assert.Equal(t, "pong", val)

	select {
	case <-appDone:
	case <-time.After(time.Second):
		t.Fatal("app handler never observed app/ping")
	}
}

func TestPushCoalescingOverWS(t *testing.T) {
	srv, ts := newTestServer(t, "u2")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "c1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readHandshake(t, conn)

	srv.Push(registry.UID("u2"), event.New("a/1", 1))
	srv.Push(registry.UID("u2"), event.New("a/2", 2))
	srv.Push(registry.UID("u2"), event.New("a/3", 3))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	value, cb, err := pstr.Unpack(codec.NewJSON(), string(data))
	require.NoError(t, err)
	assert.Equal(t, pstr.NoCB, cb)

	batch, ok := value.([]any)
	require.True(t, ok)
	require.Len(t, batch, 3, "all three pushes should coalesce into one batch")

	var ids []string
	for _, item := range batch {
		ev, ok := event.FromValue(item)
		require.True(t, ok)
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"a/1", "a/2", "a/3"}, ids, "batch preserves send order")
}

func TestAjaxHandshakeAndPostEcho(t *testing.T) {
	srv, ts := newTestServer(t, "u3")
	go func() {
		for msg := range srv.Receive() {
			if msg.Event.ID == "app/ping" && msg.Reply != nil {
				msg.Reply("pong")
			}
		}
	}()

	httpClient := ts.Client()

	getURL := ts.URL + "/chsk?client-id=c1&handshake=true"
	resp, err := httpClient.Get(getURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	packed, err := pstr.Pack(codec.NewJSON(), event.New("app/ping", 1).AsSlice(), pstr.AjaxCB)
	require.NoError(t, err)

	form := url.Values{}
	form.Set("client-id", "c1")
	form.Set("ppstr", packed)

	postResp, err := httpClient.PostForm(ts.URL+"/chsk", form)
	require.NoError(t, err)
	defer postResp.Body.Close()

	body, err := io.ReadAll(postResp.Body)
	require.NoError(t, err)
	value, cb, err := pstr.Unpack(codec.NewJSON(), string(body))
	require.NoError(t, err)
	assert.Equal(t, pstr.NoCB, cb)
	assert.Equal(t, "pong", value)
}

func TestConnectedUsersPresenceEdges(t *testing.T) {
	srv, ts := newTestServer(t, "u4")

	cu := srv.ConnectedUsers().Get()
	_, present := cu.Any[registry.UID("u4")]
	assert.False(t, present, "no connections yet")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "c1"), nil)
	require.NoError(t, err)
	readHandshake(t, conn)

	cu = srv.ConnectedUsers().Get()
	_, present = cu.Any[registry.UID("u4")]
	assert.True(t, present, "uidport-open edge should make uid present")

	conn.Close()
}

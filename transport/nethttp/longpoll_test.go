package nethttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chansock/transport"
)

func TestLongPollDeliversOnSend(t *testing.T) {
	var closed bool
	mux := http.NewServeMux()
	responderCh := make(chan *LongPollResponder, 1)
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		hooks := transport.Hooks{OnClose: func(transport.Responder) { closed = true }}
		resp := NewLongPoll(r.Context(), hooks)
		responderCh <- resp
		resp.Serve(w, r, time.Second)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	go func() {
		resp := <-responderCh
		require.NoError(t, resp.Send("payload", true))
	}()

	httpResp, err := ts.Client().Get(ts.URL + "/poll")
	require.NoError(t, err)
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, closed, "Serve must close the responder once delivered")
}

func TestLongPollTimesOutAndCloses(t *testing.T) {
	var closed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		hooks := transport.Hooks{OnClose: func(transport.Responder) { closed = true }}
		resp := NewLongPoll(r.Context(), hooks)
		resp.Serve(w, r, 20*time.Millisecond)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	httpResp, err := ts.Client().Get(ts.URL + "/poll")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Empty(t, body, "a timed-out poll delivers no payload")
	assert.True(t, closed)
}

func TestLongPollSendAfterCloseFails(t *testing.T) {
	resp := NewLongPoll(context.Background(), transport.Hooks{})
	require.NoError(t, resp.Close())
	assert.ErrorIs(t, resp.Send("late", false), ErrLongPollClosed)
}

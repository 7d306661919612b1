package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	ctx    context.Context
	cancel context.CancelFunc
	sent   []string
	closed bool
}

func newFakeResponder() *fakeResponder {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeResponder{ctx: ctx, cancel: cancel}
}

func (f *fakeResponder) Send(msg string, closeAfter bool) error {
	f.sent = append(f.sent, msg)
	if closeAfter {
		return f.Close()
	}
	return nil
}

func (f *fakeResponder) Close() error {
	if !f.closed {
		f.closed = true
		f.cancel()
	}
	return nil
}

func (f *fakeResponder) Context() context.Context { return f.ctx }

func TestOpenWSFirstOpenEdge(t *testing.T) {
	r := New()
	uid := UID("u1")

	first := r.OpenWS(uid, "c1", newFakeResponder())
	assert.True(t, first, "first connection for uid should report firstOpen")

	second := r.OpenWS(uid, "c2", newFakeResponder())
	assert.False(t, second, "second connection for same uid is not an open edge")

	cu := r.ConnectedUsers()
	_, inWS := cu.WS[uid]
	_, inAny := cu.Any[uid]
	assert.True(t, inWS)
	assert.True(t, inAny)
}

func TestConnectedUsersInvariant(t *testing.T) {
	r := New()
	uidWS := UID("ws-only")
	uidAjax := UID("ajax-only")
	uidBoth := UID("both")

	r.OpenWS(uidWS, "c1", newFakeResponder())
	r.OpenAjax(uidAjax, "c1", newFakeResponder(), time.Now())
	r.OpenWS(uidBoth, "c1", newFakeResponder())
	r.OpenAjax(uidBoth, "c2", newFakeResponder(), time.Now())

	cu := r.ConnectedUsers()
	for uid := range cu.Any {
		_, ws := cu.WS[uid]
		_, ajax := cu.Ajax[uid]
		assert.True(t, ws || ajax, "any member must be in ws or ajax")
	}
	for uid := range cu.WS {
		_, any := cu.Any[uid]
		assert.True(t, any)
	}
	for uid := range cu.Ajax {
		_, any := cu.Any[uid]
		assert.True(t, any)
	}
}

func TestCloseWSRemovesPresence(t *testing.T) {
	r := New()
	uid := UID("u1")
	r.OpenWS(uid, "c1", newFakeResponder())
	require.True(t, r.IsPresent(uid))

	r.CloseWS(uid, "c1")
	assert.False(t, r.IsPresent(uid))
}

func TestExpireAjaxIfStaleRespectsReconnect(t *testing.T) {
	r := New()
	uid := UID("u1")
	cid := ClientID("c1")
	t0 := time.Now()
	r.OpenAjax(uid, cid, newFakeResponder(), t0)

	r.ReleaseAjaxResponder(uid, cid)
	require.True(t, r.IsPresent(uid), "record retained during grace period")

	// Client reconnected (new poll) after disconnect was recorded.
	r.OpenAjax(uid, cid, newFakeResponder(), t0.Add(2*time.Second))

	// Expiry check uses the original disconnect timestamp as the
	// staleness cutoff; since lastConnected advanced past it, the record
	// must survive.
	r.ExpireAjaxIfStale(uid, cid, t0)
	assert.True(t, r.IsPresent(uid), "reconnect after cutoff must prevent expiry")
}

func TestExpireAjaxIfStaleRemovesDeadClient(t *testing.T) {
	r := New()
	uid := UID("u1")
	cid := ClientID("c1")
	t0 := time.Now()
	r.OpenAjax(uid, cid, newFakeResponder(), t0)
	r.ReleaseAjaxResponder(uid, cid)

	r.ExpireAjaxIfStale(uid, cid, t0.Add(time.Nanosecond))
	assert.False(t, r.IsPresent(uid), "no reconnect since disconnect must expire the record")
}

func TestClaimAjaxRespondersIsAtomic(t *testing.T) {
	r := New()
	uid := UID("u1")
	resp1 := newFakeResponder()
	resp2 := newFakeResponder()
	r.OpenAjax(uid, "c1", resp1, time.Now())
	r.OpenAjax(uid, "c2", resp2, time.Now())

	claimed := r.ClaimAjaxResponders(uid)
	assert.Len(t, claimed, 2)

	// A second claim round before any new poll arrives finds nothing.
	claimedAgain := r.ClaimAjaxResponders(uid)
	assert.Empty(t, claimedAgain)
}

func TestWSRespondersSnapshot(t *testing.T) {
	r := New()
	uid := UID("u1")
	r.OpenWS(uid, "c1", newFakeResponder())
	r.OpenWS(uid, "c2", newFakeResponder())

	resps := r.WSResponders(uid)
	assert.Len(t, resps, 2)
}

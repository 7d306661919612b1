package client

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"chansock/codec"
	"chansock/event"
	"chansock/watch"
)

func newTestDeps() *coreDeps {
	cfg := Config{Packer: codec.NewJSON(), Logger: slog.Default()}.withDefaults()
	return &coreDeps{
		cfg:        cfg,
		clientID:   "c1",
		state:      watch.NewWatchable(SocketState{}),
		deliveries: make(chan event.Event, 16),
		waiters:    newWaiterMap(),
		log:        cfg.Logger,
	}
}

func TestAutoEngineDowngradesOnce(t *testing.T) {
	deps := newTestDeps()
	a := newAutoEngine(deps)

	before := a.inner()
	_, wasWS := before.(*wsEngine)
	assert.True(t, wasWS, "auto engine starts on the ws transport")

	a.downgrade(errors.New("boom"))
	after := a.inner()
	_, isAjax := after.(*ajaxEngine)
	assert.True(t, isAjax, "first failure downgrades to ajax")

	a.downgrade(errors.New("another failure"))
	assert.Same(t, after, a.inner(), "a second downgrade call must not replace the ajax engine")
}

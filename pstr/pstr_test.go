package pstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chansock/codec"
)

func TestPackUnpackRoundTripNoCB(t *testing.T) {
	c := codec.NewJSON()
	value := []any{"app/login", map[string]any{"user": "alice"}}

	packed, err := Pack(c, value, NoCB)
	require.NoError(t, err)
	assert.Equal(t, byte(PrefixUnwrapped), packed[0])

	got, cb, err := Unpack(c, packed)
	require.NoError(t, err)
	assert.Equal(t, NoCB, cb)
	assert.Equal(t, value, got)
}

func TestPackUnpackRoundTripWithCB(t *testing.T) {
	c := codec.NewJSON()
	value := "pong"
	cb := CB("abc123")

	packed, err := Pack(c, value, cb)
	require.NoError(t, err)
	assert.Equal(t, byte(PrefixWrapped), packed[0])

	got, gotCB, err := Unpack(c, packed)
	require.NoError(t, err)
	assert.Equal(t, cb, gotCB)
	assert.Equal(t, value, got)
}

func TestPackUnpackAjaxSentinel(t *testing.T) {
	c := codec.NewJSON()

	packed, err := Pack(c, "pong", AjaxCB)
	require.NoError(t, err)

	_, cb, err := Unpack(c, packed)
	require.NoError(t, err)
	assert.Equal(t, AjaxCB, cb)
}

func TestUnpackEmpty(t *testing.T) {
	c := codec.NewJSON()
	_, _, err := Unpack(c, "")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestUnpackUnknownPrefix(t *testing.T) {
	c := codec.NewJSON()
	_, _, err := Unpack(c, "?{}")
	assert.ErrorIs(t, err, ErrUnknownPrefix)
}

func TestUnpackBadWrappedShape(t *testing.T) {
	c := codec.NewJSON()
	body, err := c.Marshal([]any{"a", "b", "c"})
	require.NoError(t, err)

	_, _, err = Unpack(c, string(PrefixWrapped)+string(body))
	assert.ErrorIs(t, err, ErrWrappedShape)
}

func TestPackUnpackWithBinaryCodec(t *testing.T) {
	c := codec.NewBinary()
	value := map[string]any{"id": "app/ping", "user": "alice"}

	packed, err := Pack(c, value, CB("x1"))
	require.NoError(t, err)

	got, cb, err := Unpack(c, packed)
	require.NoError(t, err)
	assert.Equal(t, CB("x1"), cb)
	assert.Equal(t, value, got)
}

func TestPackUnpackAjaxSentinelBinaryCodec(t *testing.T) {
	c := codec.NewBinary()

	packed, err := Pack(c, "pong", AjaxCB)
	require.NoError(t, err)

	_, cb, err := Unpack(c, packed)
	require.NoError(t, err)
	assert.Equal(t, AjaxCB, cb)
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	c := NewJSON()
	assert.Equal(t, "json", c.Name())

	in := []any{"app/login", map[string]any{"name": "alice", "age": float64(30)}}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out, err := c.Unmarshal(data)
	require.NoError(t, err)

	slice, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, slice, 2)
	assert.Equal(t, "app/login", slice[0])

	payload, ok := slice[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", payload["name"])
	assert.Equal(t, float64(30), payload["age"])
}

func TestBinaryRoundTrip(t *testing.T) {
	c := NewBinary()
	assert.Equal(t, "cbor", c.Name())

	in := []any{"app/login", map[string]any{"name": "alice", "tags": []any{"a", "b"}}}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out, err := c.Unmarshal(data)
	require.NoError(t, err)

	slice, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, slice, 2)
	assert.Equal(t, "app/login", slice[0])

	payload, ok := slice[1].(map[string]any)
	require.True(t, ok, "normalize must yield map[string]any, got %T", slice[1])
	assert.Equal(t, "alice", payload["name"])

	tags, ok := payload["tags"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, tags)
}

func TestNormalizeConvertsNestedAnyMaps(t *testing.T) {
	in := map[any]any{
		"outer": map[any]any{"inner": "value"},
		"list":  []any{map[any]any{"k": "v"}},
	}
	out := normalize(in)

	m, ok := out.(map[string]any)
	require.True(t, ok)

	outer, ok := m["outer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "value", outer["inner"])

	list, ok := m["list"].([]any)
	require.True(t, ok)
	elem, ok := list[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v", elem["k"])
}

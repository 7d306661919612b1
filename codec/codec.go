// Package codec holds the pluggable pack/unpack contract described in the
// design notes: a minimal two-method interface so the wire format is never
// hard-wired to one serialization library. Concrete codecs live in this
// package but nothing above pstr depends on which one is selected.
package codec

// Codec marshals an arbitrary application value to bytes and back. Unmarshal
// must be able to round-trip whatever Marshal produced for values built out
// of the primitives the wire format uses: strings, numbers, bools, nil,
// []any and map[string]any.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
	Name() string
}

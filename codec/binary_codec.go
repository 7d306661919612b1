package codec

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

// Binary is a compact alternative to the textual JSON codec. CBOR is
// self-describing, so the decoder doesn't need to know the shape of a
// value ahead of time.
type Binary struct {
	handle *codec.CborHandle
}

var stringMapType = reflect.TypeOf(map[string]any(nil))

// NewBinary constructs the CBOR codec.
func NewBinary() Binary {
	h := &codec.CborHandle{}
	h.MapType = stringMapType
	return Binary{handle: h}
}

func (Binary) Name() string { return "cbor" }

func (b Binary) Marshal(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, b.handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b Binary) Unmarshal(data []byte) (any, error) {
	var v any
	dec := codec.NewDecoderBytes(data, b.handle)
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// normalize converts the map[any]any shape ugorji produces for CBOR maps
// into map[string]any so downstream code (event.FromValue and friends) can
// treat both codecs the same way.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalize(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

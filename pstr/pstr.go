// Package pstr implements the "packed string" wire unit: a one-byte prefix
// plus codec output, the only way a receiver can tell whether a frame
// expects or supplies a reply.
package pstr

import (
	"errors"

	"chansock/codec"
)

// Prefix bytes. Unwrapped means the decoded value is the event/payload
// directly; wrapped means it's a 1- or 2-element sequence [value, cb?].
const (
	PrefixUnwrapped = '-'
	PrefixWrapped   = '+'
)

// CB identifies a reply-correlation marker. The zero value means "no
// callback requested" (unwrapped frame). AjaxCB is the sentinel meaning
// "this is an Ajax-style one-shot callback" rather than a real ws cb-uuid.
type CB string

const (
	NoCB   CB = ""
	AjaxCB CB = "0"
)

// Present reports whether cb denotes any kind of requested reply.
func (cb CB) Present() bool { return cb != NoCB }

var (
	ErrEmpty         = errors.New("pstr: empty packed string")
	ErrUnknownPrefix = errors.New("pstr: unknown prefix byte")
	ErrWrappedShape  = errors.New("pstr: wrapped frame must decode to a 1- or 2-element sequence")
)

// Pack produces a pstr for value, optionally correlated with cb. Absent cb
// (NoCB) uses the '-' prefix with no wrapper; any other cb uses the '+'
// prefix wrapping [value, cbWire] where the Ajax sentinel marshals as the
// integer 0 (in whatever form the codec encodes it) and any other cb
// marshals as its string id.
func Pack(c codec.Codec, value any, cb CB) (string, error) {
	if cb == NoCB {
		body, err := c.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(PrefixUnwrapped) + string(body), nil
	}

	var cbWire any
	if cb == AjaxCB {
		cbWire = 0
	} else {
		cbWire = string(cb)
	}
	body, err := c.Marshal([]any{value, cbWire})
	if err != nil {
		return "", err
	}
	return string(PrefixWrapped) + string(body), nil
}

// Unpack reverses Pack, returning the decoded value and any cb marker.
func Unpack(c codec.Codec, p string) (value any, cb CB, err error) {
	if len(p) == 0 {
		return nil, NoCB, ErrEmpty
	}
	prefix, body := p[0], p[1:]
	decoded, err := c.Unmarshal([]byte(body))
	if err != nil {
		return nil, NoCB, err
	}

	switch prefix {
	case PrefixUnwrapped:
		return decoded, NoCB, nil
	case PrefixWrapped:
		seq, ok := decoded.([]any)
		if !ok || len(seq) == 0 || len(seq) > 2 {
			return nil, NoCB, ErrWrappedShape
		}
		if len(seq) == 1 {
			return seq[0], NoCB, nil
		}
		return seq[0], cbFromWire(seq[1]), nil
	default:
		return nil, NoCB, ErrUnknownPrefix
	}
}

// cbFromWire maps the decoded correlation slot back to a CB. The numeric
// cases cover every integer shape the codecs produce for the sentinel 0
// (float64 from JSON, int64/uint64 from CBOR).
func cbFromWire(v any) CB {
	switch t := v.(type) {
	case string:
		return CB(t)
	case float64:
		if t == 0 {
			return AjaxCB
		}
	case int:
		if t == 0 {
			return AjaxCB
		}
	case int64:
		if t == 0 {
			return AjaxCB
		}
	case uint64:
		if t == 0 {
			return AjaxCB
		}
	}
	return NoCB
}

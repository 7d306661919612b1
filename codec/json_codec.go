package codec

import "github.com/goccy/go-json"

// JSON is the default textual codec. goccy/go-json is a drop-in
// encoding/json replacement with a
// faster decoder, which is all this codec needs: arbitrary-shaped events
// decoded into generic Go values (map[string]any, []any, float64, ...).
type JSON struct{}

// NewJSON constructs the default codec.
func NewJSON() JSON { return JSON{} }

func (JSON) Name() string { return "json" }

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

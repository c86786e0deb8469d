// Package jsoncodec implements the F2 plain-tree payload format directly
// atop encoding/json: no tags, no handler tables, a 1:1 mapping between
// JSON values and Go nil/bool/int64/float64/string/[]any/map[string]any.
package jsoncodec

import (
	"bytes"
	"encoding/json"

	"github.com/judepayne/go-pods/payload"
)

// Codec is a payload.Codec for the JSON format. It carries no handler
// tables; F2 has no tagging convention for extension types.
type Codec struct{}

func New() *Codec { return &Codec{} }

func (c *Codec) Format() payload.Format { return payload.JSON }

func (c *Codec) EncodeArgs(args []any) ([]byte, error) {
	out, err := json.Marshal(args)
	if err != nil {
		return nil, payload.EncodeErrf("json: %v", err)
	}
	return out, nil
}

func (c *Codec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, payload.DecodeErrf("json: %v", err)
	}
	return normalize(raw)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return payload.JSONNumberToGo(t.String())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

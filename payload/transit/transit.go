// Package transit implements the F3 tagged-typed payload format as a
// simplified JSON convention: a tagged value is written as a single-key
// JSON object {"~#tag": rep}, rather than transit-json's cache-coded array
// encoding. spec.md requires bit-exact wire compatibility only for the
// envelope codec (§4.1); F3 here trades transit-json wire compatibility for
// a form that is trivially inspectable and still exercises the same
// tag/handler-table semantics (built-in u / local-date-time / with-meta
// plus a read/write handler table and default writer fallback).
package transit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/judepayne/go-pods/payload"
)

const tagKeyPrefix = "~#"

// Codec is a payload.Codec for the transit-like format, bound to one pod's
// handler tables.
type Codec struct {
	handlers *payload.HandlerSet
}

func New(handlers *payload.HandlerSet) *Codec {
	return &Codec{handlers: handlers}
}

func (c *Codec) Format() payload.Format { return payload.Transit }

func (c *Codec) EncodeArgs(args []any) ([]byte, error) {
	out := make([]any, len(args))
	for i, a := range args {
		w, err := c.toWire(a)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, payload.EncodeErrf("transit: %v", err)
	}
	return b, nil
}

func (c *Codec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, payload.DecodeErrf("transit: %v", err)
	}
	return c.fromWire(raw)
}

// ---- encode (host value -> wire tree of map[string]any / []any / scalar) ----

func (c *Codec) toWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t := v.(type) {
	case uuid.UUID:
		return map[string]any{tagKeyPrefix + "u": t.String()}, nil
	case payload.LocalDateTime:
		return map[string]any{tagKeyPrefix + "local-date-time": formatLocalDateTime(t)}, nil
	case payload.WithMeta:
		val, err := c.toWire(t.Value)
		if err != nil {
			return nil, err
		}
		meta, err := c.toWire(t.Meta)
		if err != nil {
			return nil, err
		}
		return map[string]any{tagKeyPrefix + "with-meta": map[string]any{"value": val, "meta": meta}}, nil
	case payload.TaggedLiteral:
		rep, err := c.toWire(t.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{tagKeyPrefix + t.Tag: rep}, nil
	case payload.List:
		return c.toWireSlice(t)
	case payload.Vector:
		return c.toWireSlice(t)
	case payload.Set:
		inner, err := c.toWireSlice(t)
		if err != nil {
			return nil, err
		}
		return map[string]any{tagKeyPrefix + "set": inner}, nil
	case payload.Map:
		obj := make(map[string]any, len(t.Entries))
		for _, e := range t.Entries {
			ks, ok := e.Key.(string)
			if !ok {
				if kw, ok := e.Key.(payload.Keyword); ok {
					ks = string(kw)
				} else {
					return nil, payload.EncodeErrf("transit: non-string map key %#v unsupported by the simplified object encoding", e.Key)
				}
			}
			wv, err := c.toWire(e.Value)
			if err != nil {
				return nil, err
			}
			obj[ks] = wv
		}
		return obj, nil
	case bool, int, int64, float64, string:
		return t, nil
	}

	if c.handlers != nil {
		if fn, ok := findTransitWriter(c.handlers, v); ok {
			tag, rep, matched := fn(v)
			if matched {
				wrep, err := c.toWire(rep)
				if err != nil {
					return nil, err
				}
				return map[string]any{tagKeyPrefix + tag: wrep}, nil
			}
		}
		if def := c.handlers.TransitDefaultWriter(); def != nil {
			tag, rep, matched := def(v)
			if matched {
				wrep, err := c.toWire(rep)
				if err != nil {
					return nil, err
				}
				return map[string]any{tagKeyPrefix + tag: wrep}, nil
			}
		}
	}

	return nil, payload.EncodeErrf("transit: no writer for value of type %T", v)
}

func (c *Codec) toWireSlice(items []any) (any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		w, err := c.toWire(item)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// ---- decode (wire tree -> host value) ----

func (c *Codec) fromWire(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		return payload.JSONNumberToGo(t.String())
	case []any:
		out := make(payload.Vector, len(t))
		for i, item := range t {
			hv, err := c.fromWire(item)
			if err != nil {
				return nil, err
			}
			out[i] = hv
		}
		return out, nil
	case map[string]any:
		if len(t) == 1 {
			for k, rep := range t {
				if tag, ok := cutTagKey(k); ok {
					return c.decodeTagged(tag, rep)
				}
			}
		}
		return c.decodeMap(t)
	default:
		return v, nil
	}
}

func (c *Codec) decodeMap(obj map[string]any) (payload.Map, error) {
	m := payload.Map{}
	for k, v := range obj {
		hv, err := c.fromWire(v)
		if err != nil {
			return payload.Map{}, err
		}
		m.Entries = append(m.Entries, payload.MapEntry{Key: k, Value: hv})
	}
	return m, nil
}

func (c *Codec) decodeTagged(tag string, rawRep any) (any, error) {
	switch tag {
	case "u":
		s, _ := rawRep.(string)
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, payload.DecodeErrf("transit: bad u value %q: %v", s, err)
		}
		return id, nil
	case "local-date-time":
		s, _ := rawRep.(string)
		ldt, err := parseLocalDateTime(s)
		if err != nil {
			return nil, payload.DecodeErrf("transit: bad local-date-time value %q: %v", s, err)
		}
		return ldt, nil
	case "with-meta":
		obj, ok := rawRep.(map[string]any)
		if !ok {
			return nil, payload.DecodeErrf("transit: with-meta representation must be an object")
		}
		val, err := c.fromWire(obj["value"])
		if err != nil {
			return nil, err
		}
		meta, err := c.fromWire(obj["meta"])
		if err != nil {
			return nil, err
		}
		return payload.WithMeta{Value: val, Meta: meta}, nil
	case "set":
		arr, ok := rawRep.([]any)
		if !ok {
			return nil, payload.DecodeErrf("transit: set representation must be an array")
		}
		items, err := c.fromWireSlice(arr)
		if err != nil {
			return nil, err
		}
		return payload.Set(items), nil
	}

	if c.handlers != nil {
		if fn, ok := c.handlers.TransitReader(tag); ok {
			rep, err := c.fromWire(rawRep)
			if err != nil {
				return nil, err
			}
			v, err := fn(rep)
			if err != nil {
				return nil, payload.DecodeErrf("transit reader for ~#%s: %v", tag, err)
			}
			return v, nil
		}
	}

	rep, err := c.fromWire(rawRep)
	if err != nil {
		return nil, err
	}
	return payload.TaggedLiteral{Tag: tag, Value: rep}, nil
}

func (c *Codec) fromWireSlice(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		hv, err := c.fromWire(item)
		if err != nil {
			return nil, err
		}
		out[i] = hv
	}
	return out, nil
}

func cutTagKey(k string) (string, bool) {
	if len(k) > len(tagKeyPrefix) && k[:len(tagKeyPrefix)] == tagKeyPrefix {
		return k[len(tagKeyPrefix):], true
	}
	return "", false
}

func findTransitWriter(h *payload.HandlerSet, v any) (payload.WriteHandler, bool) {
	fn, ok := h.TransitWriters()[reflect.TypeOf(v)]
	return fn, ok
}

const localDateTimeLayout = "2006-01-02T15:04:05.000000000"

func formatLocalDateTime(t payload.LocalDateTime) string {
	return time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, time.UTC).Format(localDateTimeLayout)
}

func parseLocalDateTime(s string) (payload.LocalDateTime, error) {
	tm, err := time.Parse(localDateTimeLayout, s)
	if err != nil {
		return payload.LocalDateTime{}, fmt.Errorf("parse: %w", err)
	}
	return payload.LocalDateTime{
		Year: tm.Year(), Month: int(tm.Month()), Day: tm.Day(),
		Hour: tm.Hour(), Minute: tm.Minute(), Second: tm.Second(),
		Nanosecond: tm.Nanosecond(),
	}, nil
}

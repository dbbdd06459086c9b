package delta

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the JSON-safe classification of one attribute value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindTimestamp
	KindDuration
	KindOpaque
)

// Value is the tagged classification of an arbitrary attribute value as it
// arrives from the hub. Classify + JSON collapse everything to JSON-safe
// primitives: scalars pass through, containers recurse, timestamps become
// ISO-8601, durations become seconds, and anything else falls back to its
// displayable form.
type Value struct {
	Kind Kind
	raw  any
}

func Classify(v any) Value {
	switch v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, raw: v}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Value{Kind: KindInt, raw: v}
	case float32, float64, json.Number:
		return Value{Kind: KindFloat, raw: v}
	case string:
		return Value{Kind: KindString, raw: v}
	case time.Time:
		return Value{Kind: KindTimestamp, raw: v}
	case time.Duration:
		return Value{Kind: KindDuration, raw: v}
	case map[string]any:
		return Value{Kind: KindMap, raw: v}
	case []any:
		return Value{Kind: KindList, raw: v}
	}
	return Value{Kind: KindOpaque, raw: v}
}

// JSON returns the JSON-encodable form of the value.
func (v Value) JSON() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool, KindInt, KindFloat, KindString:
		return v.raw
	case KindTimestamp:
		return v.raw.(time.Time).Format(time.RFC3339Nano)
	case KindDuration:
		return v.raw.(time.Duration).Seconds()
	case KindMap:
		m := v.raw.(map[string]any)
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = JSONSafe(item)
		}
		return out
	case KindList:
		l := v.raw.([]any)
		out := make([]any, len(l))
		for i, item := range l {
			out[i] = JSONSafe(item)
		}
		return out
	}
	// Opaque: prefer an explicit Value() accessor (enum-style types),
	// then Stringer, then the default formatting.
	if uv, ok := v.raw.(interface{ Value() any }); ok {
		return JSONSafe(uv.Value())
	}
	if s, ok := v.raw.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v.raw)
}

// JSONSafe reduces an arbitrary attribute value to JSON-safe primitives.
func JSONSafe(v any) any {
	return Classify(v).JSON()
}

// JSONSafeAttributes reduces a whole attribute map.
func JSONSafeAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = JSONSafe(v)
	}
	return out
}

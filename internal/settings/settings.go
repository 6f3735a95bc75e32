// Package settings builds the request payload sent to the external peer
// from the most recently published configuration.
package settings

import (
	"encoding/json"
	"math"
	"time"
)

// Request is the document sent to the peer on every fired cycle.
type Request struct {
	Lightsheet map[string]any `json:"lightsheet"`
}

// NewRequest sanitizes the given settings payload and wraps it in a Request.
func NewRequest(raw map[string]any) *Request {
	return &Request{Lightsheet: Sanitize(raw)}
}

// Sanitize returns a copy of in that is safe to serialize as JSON. Values
// that cannot be represented (non-finite floats, channels, functions and the
// like) are dropped rather than failing the whole payload. Nested maps and
// slices are sanitized recursively.
func Sanitize(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		cv, ok := sanitizeValue(v)
		if !ok {
			continue
		}
		out[k] = cv
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return t, true
	case float64:
		if !isFinite(t) {
			return nil, false
		}
		return t, true
	case float32:
		f := float64(t)
		if !isFinite(f) {
			return nil, false
		}
		return f, true
	case time.Time:
		return t.Format(time.RFC3339Nano), true
	case map[string]any:
		return Sanitize(t), true
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			ce, ok := sanitizeValue(e)
			if !ok {
				continue
			}
			out = append(out, ce)
		}
		return out, true
	default:
		// Unknown concrete type. Let the encoder decide: anything it can
		// marshal is kept as is, anything else is dropped.
		if _, err := json.Marshal(v); err != nil {
			return nil, false
		}
		return v, true
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

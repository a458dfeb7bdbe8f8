package modelspec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/jsonutil"
)

// Decode coerces a wire-format value into domain form: ISO-8601 strings
// become time.Time, id-typed fields go through the backend IDSchema, and
// numbers land in their declared width. Only present fields are decoded, so
// the same code serves full and partial payloads. System fields are coerced
// by name; undeclared keys pass through untouched.
func Decode(s *Spec, value map[string]any, ids IDSchema) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		decoded, err := decodeKey(s, k, v, ids)
		if err != nil {
			return nil, apperrors.Validation("decode failed", apperrors.FieldError{Field: k, Message: err.Error()})
		}
		out[k] = decoded
	}
	return out, nil
}

func decodeKey(s *Spec, key string, v any, ids IDSchema) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case idSystemFields[key]:
		return decodeID(v, ids)
	case timeSystemFields[key]:
		return decodeTimestamp(v)
	}
	f, ok := s.Field(key)
	if !ok {
		return v, nil
	}
	return decodeField(f, v, ids)
}

func decodeField(f Field, v any, ids IDSchema) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return str, nil
	case TypeNumber:
		return decodeNumber(v)
	case TypeInteger:
		return decodeInteger(v)
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case TypeTimestamp:
		return decodeTimestamp(v)
	case TypeID:
		return decodeID(v, ids)
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		if len(f.Fields) == 0 {
			return obj, nil
		}
		out := make(map[string]any, len(obj))
		for k, sub := range obj {
			subField, declared := findField(f.Fields, k)
			if !declared {
				out[k] = sub
				continue
			}
			decoded, err := decodeField(subField, sub, ids)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = decoded
		}
		return out, nil
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", v)
		}
		if f.Element == nil {
			return arr, nil
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			decoded, err := decodeField(*f.Element, item, ids)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return v, nil
	}
}

func decodeNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func decodeInteger(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func decodeTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected ISO-8601 timestamp: %v", err)
		}
		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("expected ISO-8601 timestamp, got %T", v)
	}
}

// decodeID materializes the backend-native id. Values already in native form
// (set by the system path) pass through.
func decodeID(v any, ids IDSchema) (any, error) {
	if _, ok := ids.Format(v); ok {
		return v, nil
	}
	wire, ok := jsonutil.CoerceString(v)
	if !ok {
		return nil, fmt.Errorf("expected id, got %T", v)
	}
	return ids.Parse(wire)
}

// Encode converts a domain value back to wire form: native ids become
// strings, timestamps become UTC ISO-8601. Nested maps and arrays (join
// results) are walked with the by-name system-field rules.
func Encode(s *Spec, value map[string]any, ids IDSchema) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = encodeKey(s, k, v, ids)
	}
	return out
}

func encodeKey(s *Spec, key string, v any, ids IDSchema) any {
	if v == nil {
		return nil
	}
	switch {
	case idSystemFields[key]:
		return encodeID(v, ids)
	case timeSystemFields[key]:
		return encodeTimestamp(v)
	}
	if f, ok := s.Field(key); ok {
		return encodeField(f, v, ids)
	}
	return encodeNested(v, ids)
}

func encodeField(f Field, v any, ids IDSchema) any {
	if v == nil {
		return nil
	}
	switch f.Type {
	case TypeID:
		return encodeID(v, ids)
	case TypeTimestamp:
		return encodeTimestamp(v)
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(obj))
		for k, sub := range obj {
			if subField, declared := findField(f.Fields, k); declared {
				out[k] = encodeField(subField, sub, ids)
			} else {
				out[k] = encodeNestedKey(k, sub, ids)
			}
		}
		return out
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			if f.Element != nil {
				out[i] = encodeField(*f.Element, item, ids)
			} else {
				out[i] = encodeNested(item, ids)
			}
		}
		return out
	default:
		return v
	}
}

// encodeNested walks join-produced values that carry no declared schema.
// System fields convert by name; everything else passes through.
func encodeNested(v any, ids IDSchema) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = encodeNestedKey(k, sub, ids)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeNested(item, ids)
		}
		return out
	case time.Time:
		return encodeTimestamp(val)
	default:
		return v
	}
}

func encodeNestedKey(key string, v any, ids IDSchema) any {
	if v == nil {
		return nil
	}
	switch {
	case idSystemFields[key]:
		return encodeID(v, ids)
	case timeSystemFields[key]:
		return encodeTimestamp(v)
	default:
		return encodeNested(v, ids)
	}
}

func encodeID(v any, ids IDSchema) any {
	if wire, ok := ids.Format(v); ok {
		return wire
	}
	if wire, ok := jsonutil.CoerceString(v); ok {
		return wire
	}
	return v
}

func encodeTimestamp(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	case int64:
		// epoch millis from drivers that bypass postprocessing
		return time.UnixMilli(t).UTC().Format(time.RFC3339Nano)
	default:
		if s, ok := jsonutil.CoerceString(v); ok {
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
			}
		}
		return v
	}
}

func findField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Package jsonutil holds small helpers for wire values decoded into untyped Go.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// CoerceString renders a decoded JSON scalar as a string. Whole numbers render
// without a fraction so integer ids survive the float64 detour encoding/json
// takes on untyped values.
func CoerceString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

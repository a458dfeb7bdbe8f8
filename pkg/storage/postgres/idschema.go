package postgres

import (
	"fmt"
	"strconv"
)

// serialIDSchema maps wire ids to the bigserial columns the relational
// backend assigns. Native form is a positive int64.
type serialIDSchema struct{}

// Parse converts a decimal wire id to int64.
func (serialIDSchema) Parse(wire string) (any, error) {
	n, err := strconv.ParseInt(wire, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("id %q is not a decimal integer", wire)
	}
	if n <= 0 {
		return nil, fmt.Errorf("id %q is out of range", wire)
	}
	return n, nil
}

// Format converts a native id back to its wire form.
func (serialIDSchema) Format(v any) (string, bool) {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int:
		return strconv.Itoa(n), true
	default:
		return "", false
	}
}

// Allocate returns nil: the database assigns serial ids.
func (serialIDSchema) Allocate() any { return nil }

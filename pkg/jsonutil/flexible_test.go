package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestCoerceString(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"string", "abc", "abc", true},
		{"whole float", float64(42), "42", true},
		{"fractional float", 3.5, "3.5", true},
		{"json number", json.Number("9007199254740993"), "9007199254740993", true},
		{"int", 7, "7", true},
		{"int64", int64(123456789), "123456789", true},
		{"bool", true, "true", true},
		{"nil", nil, "", false},
		{"map", map[string]any{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceString(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("CoerceString(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("CoerceString(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

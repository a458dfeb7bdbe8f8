package modelspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
)

// compileSchema renders the declared fields as a JSON Schema document and
// compiles it. The partial variant drops the required list: every field
// becomes optional, which is what partial updates validate against.
func compileSchema(s *Spec, partial bool) (*jsonschema.Schema, error) {
	props := map[string]any{}
	var required []string
	for _, f := range s.fields {
		props[f.Name] = f.propertySchema()
		if f.Required && !partial {
			required = append(required, f.Name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	variant := "full"
	if partial {
		variant = "partial"
	}
	url := fmt.Sprintf("memory://specs/%s/%s.json", s.name, variant)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Validate checks value against the full schema, or the all-optional partial
// schema when partial is true. Underscore-prefixed keys are pipeline-owned
// and ignored here. A nil result means valid; errors are returned, never
// panicked or thrown through the error chain.
func (s *Spec) Validate(value map[string]any, partial bool) []apperrors.FieldError {
	if value == nil {
		return []apperrors.FieldError{{Message: "value is required"}}
	}

	doc := make(map[string]any, len(value))
	for k, v := range value {
		if IsSystemField(k) {
			continue
		}
		doc[k] = normalizeForSchema(v)
	}

	schema := s.fullSchema
	if partial {
		schema = s.partialSchema
	}

	err := schema.Validate(any(doc))
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []apperrors.FieldError{{Message: err.Error()}}
	}
	return flattenValidation(ve)
}

// normalizeForSchema converts values that did not come straight out of
// encoding/json into forms the schema validator understands.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = normalizeForSchema(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = normalizeForSchema(sub)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var quotedNamePattern = regexp.MustCompile(`'([^']+)'`)

// flattenValidation walks the cause tree and emits one FieldError per leaf.
// Missing-property and unknown-property leaves are split per named field so
// clients get addressable paths instead of one aggregate message.
func flattenValidation(ve *jsonschema.ValidationError) []apperrors.FieldError {
	var out []apperrors.FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}

		path := pointerToPath(e.InstanceLocation)
		switch {
		case strings.HasSuffix(e.KeywordLocation, "/required"):
			for _, m := range quotedNamePattern.FindAllStringSubmatch(e.Message, -1) {
				out = append(out, apperrors.FieldError{Field: joinPath(path, m[1]), Message: "is required"})
			}
		case strings.HasSuffix(e.KeywordLocation, "/additionalProperties"):
			for _, m := range quotedNamePattern.FindAllStringSubmatch(e.Message, -1) {
				out = append(out, apperrors.FieldError{Field: joinPath(path, m[1]), Message: "is not allowed"})
			}
		default:
			out = append(out, apperrors.FieldError{Field: path, Message: e.Message})
		}
	}
	walk(ve)

	if len(out) == 0 {
		out = append(out, apperrors.FieldError{Message: ve.Message})
	}
	return out
}

// pointerToPath converts a JSON pointer ("/items/0/name") to a dotted field
// path ("items.0.name"). Declared names contain no pointer escapes.
func pointerToPath(ptr string) string {
	return strings.ReplaceAll(strings.TrimPrefix(ptr, "/"), "/", ".")
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

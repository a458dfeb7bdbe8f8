package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// PreprocessEntity rewrites an entity on the ingress boundary: explicit nulls
// become absent fields, so a cleared optional field is stored the same way as
// one never set.
func (s *store) PreprocessEntity(entity storage.Entity) storage.Entity {
	if entity == nil {
		return nil
	}
	out := make(storage.Entity, len(entity))
	for k, v := range entity {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// PostprocessEntity rewrites an entity on the egress boundary: driver types
// become domain types (DateTime to UTC time.Time, bson documents and arrays to
// plain maps and slices) and null members are dropped.
func (s *store) PostprocessEntity(entity storage.Entity) storage.Entity {
	if entity == nil {
		return nil
	}
	out := make(storage.Entity, len(entity))
	for k, v := range entity {
		norm := normalizeRead(v)
		if norm == nil {
			continue
		}
		out[k] = norm
	}
	return out
}

func normalizeRead(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case primitive.Null:
		return nil
	case primitive.DateTime:
		return val.Time().UTC()
	case bson.M:
		return normalizeMap(val)
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = e.Value
		}
		return normalizeMap(m)
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeRead(item) // array positions are data, not absence
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeRead(item)
		}
		return out
	case map[string]any:
		return normalizeMap(val)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		norm := normalizeRead(v)
		if norm == nil {
			continue
		}
		out[k] = norm
	}
	return out
}

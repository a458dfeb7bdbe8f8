package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// rowToEntity assembles one flat planner row into the nested shape the
// document pipeline produces for the same joins: alias blocks become nested
// objects (null when every block column is null), many-join jsonb aggregates
// become arrays, and remaining columns convert snake_case back to wire names.
func rowToEntity(cols []string, vals []any, ops []storage.Operation) (storage.Entity, error) {
	oneToOne := make(map[string]bool, len(ops))
	many := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Kind == storage.JoinLeftMany {
			many[op.As] = true
		} else {
			oneToOne[op.As] = true
		}
	}

	root := make(storage.Entity, len(cols))
	blocks := make(map[string]storage.Entity)
	blockHasValue := make(map[string]bool)

	for i, col := range cols {
		v := vals[i]

		if many[col] {
			arr, err := jsonArray(v)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			root[col] = arr
			continue
		}

		if idx := strings.Index(col, "__"); idx > 0 {
			alias := col[:idx]
			if oneToOne[alias] {
				if blocks[alias] == nil {
					blocks[alias] = storage.Entity{}
				}
				if v != nil {
					blocks[alias][wireName(col[idx+2:])] = v
					blockHasValue[alias] = true
				}
				continue
			}
		}

		root[wireName(col)] = v
	}

	for _, op := range ops {
		if op.Kind == storage.JoinLeftMany {
			continue
		}
		if blockHasValue[op.As] {
			root[op.As] = blocks[op.As]
		} else {
			// Left-join miss: the nested object is null, not a shell of nulls.
			root[op.As] = nil
		}
	}

	return root, nil
}

// jsonArray normalizes a jsonb aggregate column. pgx decodes jsonb into Go
// values already; raw bytes appear when rows bypass the codec.
func jsonArray(v any) ([]any, error) {
	switch j := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return j, nil
	case []byte:
		return decodeJSONArray(j)
	case string:
		return decodeJSONArray([]byte(j))
	default:
		return nil, fmt.Errorf("expected jsonb array, got %T", v)
	}
}

func decodeJSONArray(raw []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("malformed jsonb array: %w", err)
	}
	if arr == nil {
		arr = []any{}
	}
	return arr, nil
}

// PreprocessEntity rewrites an entity on the ingress boundary: explicit nulls
// become absent fields, matching the document backend where unset means
// missing.
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

// PostprocessEntity rewrites an entity on the egress boundary: NULL columns
// and null nested-object members are dropped so both backends read
// structurally alike.
func (s *store) PostprocessEntity(entity storage.Entity) storage.Entity {
	if entity == nil {
		return nil
	}
	out := make(storage.Entity, len(entity))
	for k, v := range entity {
		if v == nil {
			continue
		}
		out[k] = normalizeRead(v)
	}
	return out
}

func normalizeRead(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			if sub == nil {
				continue
			}
			out[k] = normalizeRead(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeRead(item)
		}
		return out
	default:
		return v
	}
}

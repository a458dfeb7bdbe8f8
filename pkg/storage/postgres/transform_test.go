package postgres

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stratumhq/stratum-engine/pkg/storage"
)

func TestRowToEntityRootColumns(t *testing.T) {
	entity, err := rowToEntity(
		[]string{"_id", "name", "in_stock"},
		[]any{int64(1), "Drill", true},
		nil,
	)
	if err != nil {
		t.Fatalf("rowToEntity: %v", err)
	}

	want := storage.Entity{"_id": int64(1), "name": "Drill", "inStock": true}
	if !reflect.DeepEqual(entity, want) {
		t.Errorf("got %v, want %v", entity, want)
	}
}

func TestRowToEntityOneToOneBlock(t *testing.T) {
	ops := []storage.Operation{
		storage.LeftJoin("categories", "categoryId", "_id", "category"),
	}
	cols := []string{"_id", "name", "category___id", "category__name"}

	t.Run("match becomes nested object", func(t *testing.T) {
		entity, err := rowToEntity(cols, []any{int64(1), "Drill", int64(9), "Tools"}, ops)
		if err != nil {
			t.Fatalf("rowToEntity: %v", err)
		}
		want := storage.Entity{
			"_id":      int64(1),
			"name":     "Drill",
			"category": storage.Entity{"_id": int64(9), "name": "Tools"},
		}
		if !reflect.DeepEqual(entity, want) {
			t.Errorf("got %v, want %v", entity, want)
		}
	})

	t.Run("miss becomes null, not a shell of nulls", func(t *testing.T) {
		entity, err := rowToEntity(cols, []any{int64(1), "Drill", nil, nil}, ops)
		if err != nil {
			t.Fatalf("rowToEntity: %v", err)
		}
		v, ok := entity["category"]
		if !ok {
			t.Fatal("category key missing from transform output")
		}
		if v != nil {
			t.Errorf("category = %v, want nil", v)
		}
	})
}

func TestRowToEntityManyColumn(t *testing.T) {
	ops := []storage.Operation{
		storage.LeftJoinMany("order_items", "_id", "productId", "items"),
	}

	t.Run("decoded jsonb passes through", func(t *testing.T) {
		items := []any{map[string]any{"quantity": json.Number("2")}}
		entity, err := rowToEntity([]string{"_id", "items"}, []any{int64(1), items}, ops)
		if err != nil {
			t.Fatalf("rowToEntity: %v", err)
		}
		if !reflect.DeepEqual(entity["items"], items) {
			t.Errorf("items = %v, want %v", entity["items"], items)
		}
	})

	t.Run("raw jsonb bytes decode", func(t *testing.T) {
		entity, err := rowToEntity([]string{"_id", "items"}, []any{int64(1), []byte(`[{"quantity":2}]`)}, ops)
		if err != nil {
			t.Fatalf("rowToEntity: %v", err)
		}
		arr, ok := entity["items"].([]any)
		if !ok || len(arr) != 1 {
			t.Fatalf("items = %v, want one-element array", entity["items"])
		}
		item := arr[0].(map[string]any)
		if got := item["quantity"]; got != json.Number("2") {
			t.Errorf("quantity = %v (%T), want json.Number(2)", got, got)
		}
	})

	t.Run("null aggregate becomes empty array", func(t *testing.T) {
		entity, err := rowToEntity([]string{"_id", "items"}, []any{int64(1), nil}, ops)
		if err != nil {
			t.Fatalf("rowToEntity: %v", err)
		}
		if !reflect.DeepEqual(entity["items"], []any{}) {
			t.Errorf("items = %v, want []", entity["items"])
		}
	})

	t.Run("malformed aggregate errors", func(t *testing.T) {
		if _, err := rowToEntity([]string{"_id", "items"}, []any{int64(1), []byte("not json")}, ops); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestPreprocessEntityDropsNulls(t *testing.T) {
	s := plannerFixture(t, false)

	got := s.PreprocessEntity(storage.Entity{
		"name":    "Drill",
		"price":   nil,
		"inStock": false,
	})
	want := storage.Entity{"name": "Drill", "inStock": false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPostprocessEntityDropsNulls(t *testing.T) {
	s := plannerFixture(t, false)

	got := s.PostprocessEntity(storage.Entity{
		"name":     "Drill",
		"price":    nil,
		"category": map[string]any{"name": "Tools", "code": nil},
		"tags":     []any{"a", nil, "b"},
	})

	want := storage.Entity{
		"name":     "Drill",
		"category": map[string]any{"name": "Tools"},
		"tags":     []any{"a", nil, "b"}, // array positions are data, not absence
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestColumnNameRoundTrip(t *testing.T) {
	tests := []struct {
		wire   string
		column string
	}{
		{"name", "name"},
		{"categoryId", "category_id"},
		{"inStock", "in_stock"},
		{"_id", "_id"},
		{"_orgId", "_orgId"},
		{"_createdBy", "_createdBy"},
	}
	for _, tt := range tests {
		if got := columnName(tt.wire); got != tt.column {
			t.Errorf("columnName(%q) = %q, want %q", tt.wire, got, tt.column)
		}
		if got := wireName(tt.column); got != tt.wire {
			t.Errorf("wireName(%q) = %q, want %q", tt.column, got, tt.wire)
		}
	}
}

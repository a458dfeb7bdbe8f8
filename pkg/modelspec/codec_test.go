package modelspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
)

func TestDecodeCoercesTypes(t *testing.T) {
	s := testUserSpec(t)
	ids := testIDSchema{}

	decoded, err := Decode(s, map[string]any{
		"email":     "a@example.com",
		"age":       float64(30),
		"joinedAt":  "2024-01-02T03:04:05Z",
		"managerId": "17",
		"_id":       "42",
		"_orgId":    "3",
	}, ids)
	require.NoError(t, err)

	assert.Equal(t, int64(30), decoded["age"])
	assert.Equal(t, int64(17), decoded["managerId"])
	assert.Equal(t, int64(42), decoded["_id"])
	assert.Equal(t, int64(3), decoded["_orgId"])

	ts, ok := decoded["joinedAt"].(time.Time)
	require.True(t, ok, "joinedAt should decode to time.Time, got %T", decoded["joinedAt"])
	assert.Equal(t, 2024, ts.Year())
}

func TestDecodeNumericWireID(t *testing.T) {
	s := testUserSpec(t)

	decoded, err := Decode(s, map[string]any{"managerId": float64(17)}, testIDSchema{})
	require.NoError(t, err)
	assert.Equal(t, int64(17), decoded["managerId"])
}

func TestDecodeNativePassthrough(t *testing.T) {
	s := testUserSpec(t)
	now := time.Now()

	decoded, err := Decode(s, map[string]any{
		"_id":      int64(9),
		"_created": now,
	}, testIDSchema{})
	require.NoError(t, err)
	assert.Equal(t, int64(9), decoded["_id"])
	assert.Equal(t, now, decoded["_created"])
}

func TestDecodeFailsOnUncoercible(t *testing.T) {
	s := testUserSpec(t)

	tests := []struct {
		name  string
		value map[string]any
	}{
		{"bad timestamp", map[string]any{"joinedAt": "not-a-date"}},
		{"bad id", map[string]any{"managerId": "abc"}},
		{"fractional integer", map[string]any{"age": 30.5}},
		{"bad string", map[string]any{"email": 5.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(s, tt.value, testIDSchema{})
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "kind = %v", err)
		})
	}
}

func TestDecodeOnlyPresentFields(t *testing.T) {
	s := testUserSpec(t)

	decoded, err := Decode(s, map[string]any{"displayName": "Al"}, testIDSchema{})
	require.NoError(t, err)
	assert.Len(t, decoded, 1)
	assert.Equal(t, "Al", decoded["displayName"])
}

func TestEncodeInverse(t *testing.T) {
	s := testUserSpec(t)
	ids := testIDSchema{}

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	encoded := Encode(s, map[string]any{
		"_id":        int64(42),
		"_orgId":     int64(3),
		"_created":   created,
		"_createdBy": int64(7),
		"email":      "a@example.com",
		"managerId":  int64(17),
		"joinedAt":   created,
	}, ids)

	assert.Equal(t, "42", encoded["_id"])
	assert.Equal(t, "3", encoded["_orgId"])
	assert.Equal(t, "7", encoded["_createdBy"])
	assert.Equal(t, "17", encoded["managerId"])
	assert.Equal(t, "2024-01-02T03:04:05Z", encoded["_created"])
	assert.Equal(t, "2024-01-02T03:04:05Z", encoded["joinedAt"])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := testUserSpec(t)
	ids := testIDSchema{}

	wire := map[string]any{
		"email":     "a@example.com",
		"password":  "long-enough-secret",
		"age":       float64(30),
		"joinedAt":  "2024-01-02T03:04:05Z",
		"managerId": "17",
	}

	decoded, err := Decode(s, wire, ids)
	require.NoError(t, err)
	encoded := Encode(s, decoded, ids)

	assert.Equal(t, wire["email"], encoded["email"])
	assert.Equal(t, wire["joinedAt"], encoded["joinedAt"])
	assert.Equal(t, wire["managerId"], encoded["managerId"])
	assert.EqualValues(t, 30, encoded["age"])
}

func TestEncodeWalksJoinedValues(t *testing.T) {
	s := testUserSpec(t)
	ids := testIDSchema{}

	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	encoded := Encode(s, map[string]any{
		"email": "a@example.com",
		"manager": map[string]any{
			"_id":      int64(17),
			"_created": created,
			"name":     "Boss",
		},
		"reports": []any{
			map[string]any{"_id": int64(18), "name": "Rep"},
		},
	}, ids)

	manager := encoded["manager"].(map[string]any)
	assert.Equal(t, "17", manager["_id"])
	assert.Equal(t, "2024-05-06T07:08:09Z", manager["_created"])
	assert.Equal(t, "Boss", manager["name"])

	reports := encoded["reports"].([]any)
	first := reports[0].(map[string]any)
	assert.Equal(t, "18", first["_id"])
}

func TestDecodeNestedObjectAndArray(t *testing.T) {
	s, err := New(Config{
		Name: "order",
		Fields: []Field{
			{Name: "shipping", Type: TypeObject, Fields: []Field{
				{Name: "city", Type: TypeString},
				{Name: "deliveredAt", Type: TypeTimestamp},
			}},
			{Name: "itemIds", Type: TypeArray, Element: &Field{Type: TypeID}},
		},
	})
	require.NoError(t, err)

	decoded, err := Decode(s, map[string]any{
		"shipping": map[string]any{"city": "Boston", "deliveredAt": "2024-01-02T03:04:05Z"},
		"itemIds":  []any{"1", "2"},
	}, testIDSchema{})
	require.NoError(t, err)

	shipping := decoded["shipping"].(map[string]any)
	if _, ok := shipping["deliveredAt"].(time.Time); !ok {
		t.Errorf("deliveredAt should decode to time.Time, got %T", shipping["deliveredAt"])
	}
	itemIds := decoded["itemIds"].([]any)
	assert.Equal(t, int64(1), itemIds[0])
	assert.Equal(t, int64(2), itemIds[1])
}

package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// intIDSchema mimics the relational adapter: integer ids, backend-assigned.
type intIDSchema struct{}

func (intIDSchema) Parse(wire string) (any, error) {
	n, err := strconv.ParseInt(wire, 10, 64)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("id must be a positive integer")
	}
	return n, nil
}

func (intIDSchema) Format(v any) (string, bool) {
	if n, ok := v.(int64); ok {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}

func (intIDSchema) Allocate() any { return nil }

func filterSpec(t *testing.T) *modelspec.Spec {
	t.Helper()
	return modelspec.MustNew(modelspec.Config{
		Name: "product",
		Fields: []modelspec.Field{
			{Name: "name", Type: modelspec.TypeString, Required: true},
			{Name: "price", Type: modelspec.TypeNumber},
			{Name: "stock", Type: modelspec.TypeInteger},
			{Name: "active", Type: modelspec.TypeBoolean},
			{Name: "categoryId", Type: modelspec.TypeID},
			{Name: "launchedAt", Type: modelspec.TypeTimestamp},
			{Name: "attrs", Type: modelspec.TypeObject},
		},
	})
}

func parseQuery(t *testing.T, rawQuery string) (storage.QueryOptions, error) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/products?"+rawQuery, nil)
	return parseQueryOptions(r, filterSpec(t), intIDSchema{})
}

func TestParseQueryOptionsPagination(t *testing.T) {
	opts, err := parseQuery(t, "page=2&pageSize=25")
	require.NoError(t, err)
	require.NotNil(t, opts.Page)
	require.NotNil(t, opts.PageSize)
	assert.Equal(t, 2, *opts.Page)
	assert.Equal(t, 25, *opts.PageSize)
	assert.Empty(t, opts.Filters, "reserved parameters are not filters")

	opts, err = parseQuery(t, "")
	require.NoError(t, err)
	assert.Nil(t, opts.PageSize, "no pageSize means pagination off")
}

func TestParseQueryOptionsSort(t *testing.T) {
	opts, err := parseQuery(t, "orderBy=name&sortDirection=DESC")
	require.NoError(t, err)
	assert.Equal(t, "name", opts.OrderBy)
	assert.Equal(t, storage.SortDesc, opts.SortDirection)

	opts, err = parseQuery(t, "sortDirection=asc")
	require.NoError(t, err)
	assert.Equal(t, storage.SortAsc, opts.SortDirection)
}

func TestParseQueryOptionsFilterCoercion(t *testing.T) {
	tests := []struct {
		name  string
		query string
		field string
		want  storage.Predicate
	}{
		{"bare equality", "name=Drill", "name", storage.Eq("Drill")},
		{"number comparison", "price[gt]=10.5", "price", storage.Gt(10.5)},
		{"integer bound", "stock[lte]=3", "stock", storage.Lte(int64(3))},
		{"boolean", "active=true", "active", storage.Eq(true)},
		{"declared id field", "categoryId=7", "categoryId", storage.Eq(int64(7))},
		{"system id field", "_id[ne]=12", "_id", storage.Ne(int64(12))},
		{"substring", "name[contains]=ril", "name", storage.Contains("ril")},
		{"null literal", "price=null", "price", storage.Eq(nil)},
		{"undeclared passes raw", "mystery=thing", "mystery", storage.Eq("thing")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseQuery(t, tt.query)
			require.NoError(t, err)
			require.Contains(t, opts.Filters, tt.field)
			assert.Equal(t, tt.want, opts.Filters[tt.field])
		})
	}
}

func TestParseQueryOptionsInList(t *testing.T) {
	opts, err := parseQuery(t, "_id[in]=1,2,3")
	require.NoError(t, err)
	require.Contains(t, opts.Filters, "_id")
	p := opts.Filters["_id"]
	assert.Equal(t, storage.OpIn, p.Op)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, p.Value, "each element goes through the id schema")

	opts, err = parseQuery(t, "name[in]=a,b")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, opts.Filters["name"].Value)
}

func TestParseQueryOptionsTimestamps(t *testing.T) {
	opts, err := parseQuery(t, "_created[gte]=2026-01-02T15:04:05Z")
	require.NoError(t, err)
	want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, storage.Gte(want), opts.Filters["_created"])

	opts, err = parseQuery(t, "launchedAt[lt]=2026-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, storage.OpLt, opts.Filters["launchedAt"].Op)
	assert.IsType(t, time.Time{}, opts.Filters["launchedAt"].Value)
}

func TestParseQueryOptionsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"zero page", "page=0"},
		{"non-numeric pageSize", "pageSize=lots"},
		{"bad sort direction", "sortDirection=sideways"},
		{"unknown operator", "name[like]=x"},
		{"unclosed bracket", "name[gt=x"},
		{"non-numeric number", "price[gt]=cheap"},
		{"non-boolean", "active=yes"},
		{"bad timestamp", "_created[gte]=yesterday"},
		{"bad id", "_id=abc"},
		{"object field", "attrs=deep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseQuery(t, tt.query)
			require.Error(t, err)
			assert.Equal(t, apperrors.KindBadRequest, apperrors.As(err).Kind)
		})
	}
}

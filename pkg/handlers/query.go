package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// Reserved query parameters; everything else is a filter.
const (
	paramPage          = "page"
	paramPageSize      = "pageSize"
	paramOrderBy       = "orderBy"
	paramSortDirection = "sortDirection"
)

var filterOps = map[string]storage.Op{
	"eq":       storage.OpEq,
	"ne":       storage.OpNe,
	"in":       storage.OpIn,
	"gt":       storage.OpGt,
	"gte":      storage.OpGte,
	"lt":       storage.OpLt,
	"lte":      storage.OpLte,
	"contains": storage.OpContains,
}

// parseQueryOptions converts a request query string into QueryOptions.
// `field=value` filters for equality; `field[op]=value` selects the operator;
// `in` takes a comma-separated list. Values are coerced by the declared field
// type, so `price[gt]=10` compares numerically and `categoryId=42` goes
// through the backend id schema.
func parseQueryOptions(r *http.Request, spec *modelspec.Spec, ids modelspec.IDSchema) (storage.QueryOptions, error) {
	var opts storage.QueryOptions

	query := r.URL.Query()
	for key, values := range query {
		if len(values) == 0 {
			continue
		}
		raw := values[0]
		if raw == "" && isReserved(key) {
			continue
		}

		switch key {
		case paramPage:
			n, err := parsePositiveInt(key, raw)
			if err != nil {
				return storage.QueryOptions{}, err
			}
			opts.Page = &n
		case paramPageSize:
			n, err := parsePositiveInt(key, raw)
			if err != nil {
				return storage.QueryOptions{}, err
			}
			opts.PageSize = &n
		case paramOrderBy:
			opts.OrderBy = raw
		case paramSortDirection:
			switch strings.ToLower(raw) {
			case "asc":
				opts.SortDirection = storage.SortAsc
			case "desc":
				opts.SortDirection = storage.SortDesc
			default:
				return storage.QueryOptions{}, apperrors.BadRequest("sortDirection must be asc or desc, got %q", raw)
			}
		default:
			field, p, err := parseFilter(key, raw, spec, ids)
			if err != nil {
				return storage.QueryOptions{}, err
			}
			if opts.Filters == nil {
				opts.Filters = make(map[string]storage.Predicate)
			}
			opts.Filters[field] = p
		}
	}

	return opts, nil
}

func isReserved(key string) bool {
	switch key {
	case paramPage, paramPageSize, paramOrderBy, paramSortDirection:
		return true
	}
	return false
}

func parsePositiveInt(key, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.BadRequest("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

// parseFilter splits `field` or `field[op]` and coerces the value.
func parseFilter(key, raw string, spec *modelspec.Spec, ids modelspec.IDSchema) (string, storage.Predicate, error) {
	field := key
	opName := "eq"
	if i := strings.IndexByte(key, '['); i >= 0 {
		if !strings.HasSuffix(key, "]") {
			return "", storage.Predicate{}, apperrors.BadRequest("malformed filter parameter %q", key)
		}
		field = key[:i]
		opName = key[i+1 : len(key)-1]
	}

	op, ok := filterOps[opName]
	if !ok {
		return "", storage.Predicate{}, apperrors.BadRequest("unknown filter operator %q", opName)
	}

	if op == storage.OpIn {
		parts := strings.Split(raw, ",")
		values := make([]any, len(parts))
		for i, part := range parts {
			v, err := coerceFilterValue(spec, ids, field, part)
			if err != nil {
				return "", storage.Predicate{}, err
			}
			values[i] = v
		}
		return field, storage.In(values...), nil
	}

	v, err := coerceFilterValue(spec, ids, field, raw)
	if err != nil {
		return "", storage.Predicate{}, err
	}
	return field, storage.Predicate{Op: op, Value: v}, nil
}

// coerceFilterValue turns the raw query-string text into the type the field
// compares as. The literal `null` reads as a null match. Undeclared fields
// pass through as strings; the storage layer rejects them by name.
func coerceFilterValue(spec *modelspec.Spec, ids modelspec.IDSchema, field, raw string) (any, error) {
	if raw == "null" {
		return nil, nil
	}

	switch {
	case modelspec.IDSystemField(field):
		return coerceID(ids, field, raw)
	case modelspec.TimeSystemField(field):
		return coerceTimestamp(field, raw)
	}

	f, declared := spec.Field(field)
	if !declared {
		return raw, nil
	}

	switch f.Type {
	case modelspec.TypeString:
		return raw, nil
	case modelspec.TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, apperrors.BadRequest("filter %s expects a number, got %q", field, raw)
		}
		return n, nil
	case modelspec.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, apperrors.BadRequest("filter %s expects an integer, got %q", field, raw)
		}
		return n, nil
	case modelspec.TypeBoolean:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, apperrors.BadRequest("filter %s expects true or false, got %q", field, raw)
	case modelspec.TypeTimestamp:
		return coerceTimestamp(field, raw)
	case modelspec.TypeID:
		return coerceID(ids, field, raw)
	default:
		return nil, apperrors.BadRequest("field %s cannot be used as a filter", field)
	}
}

func coerceID(ids modelspec.IDSchema, field, raw string) (any, error) {
	native, err := ids.Parse(raw)
	if err != nil {
		return nil, apperrors.BadRequest("filter %s: %s", field, err.Error())
	}
	return native, nil
}

func coerceTimestamp(field, raw string) (any, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, apperrors.BadRequest("filter %s expects an ISO-8601 timestamp, got %q", field, raw)
	}
	return t, nil
}

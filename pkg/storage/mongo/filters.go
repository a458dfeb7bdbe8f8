package mongo

import (
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// allowedField reports whether a wire field name is usable in filters, sort,
// and write sets for the given spec. Documents store wire names verbatim.
func (s *store) allowedField(spec *modelspec.Spec, field string) bool {
	switch field {
	case modelspec.FieldID:
		return true
	case modelspec.FieldOrgID:
		return s.provider.multiTenant && spec.TenantScoped()
	case modelspec.FieldCreated, modelspec.FieldCreatedBy,
		modelspec.FieldUpdated, modelspec.FieldUpdatedBy,
		modelspec.FieldDeleted, modelspec.FieldDeletedBy:
		return spec.IsAuditable()
	}
	return spec.HasField(field)
}

// buildFilter translates predicates into a match document. Fields render in
// sorted order so generated filters are deterministic.
func (s *store) buildFilter(filters map[string]storage.Predicate) (bson.D, error) {
	if len(filters) == 0 {
		return bson.D{}, nil
	}

	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	doc := make(bson.D, 0, len(fields))
	for _, field := range fields {
		if !s.allowedField(s.spec, field) {
			return nil, apperrors.BadRequest("unknown filter field %q", field)
		}
		cond, err := translatePredicate(field, filters[field])
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: field, Value: cond})
	}
	return doc, nil
}

func translatePredicate(field string, p storage.Predicate) (any, error) {
	switch p.Op {
	case storage.OpEq:
		// {field: null} matches both null and absent, which is the document
		// representation of a cleared field.
		return bson.M{"$eq": p.Value}, nil
	case storage.OpNe:
		return bson.M{"$ne": p.Value}, nil
	case storage.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return nil, apperrors.BadRequest("filter %q: in requires a value list", field)
		}
		if values == nil {
			values = []any{}
		}
		return bson.M{"$in": values}, nil
	case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
		if p.Value == nil {
			return nil, apperrors.BadRequest("filter %q: %s requires a value", field, p.Op)
		}
		return bson.M{"$" + string(p.Op): p.Value}, nil
	case storage.OpContains:
		str, ok := p.Value.(string)
		if !ok {
			return nil, apperrors.BadRequest("filter %q: contains requires a string", field)
		}
		return bson.M{"$regex": primitive.Regex{Pattern: regexp.QuoteMeta(str), Options: "i"}}, nil
	default:
		return nil, apperrors.BadRequest("filter %q: unknown operator %q", field, p.Op)
	}
}

// buildSort validates the sort field and renders the sort document.
func (s *store) buildSort(opts storage.QueryOptions) (bson.D, error) {
	if opts.OrderBy == "" {
		return nil, nil
	}
	if !s.allowedField(s.spec, opts.OrderBy) {
		return nil, apperrors.BadRequest("unknown sort field %q", opts.OrderBy)
	}
	dir := 1
	if opts.SortDirection == storage.SortDesc {
		dir = -1
	}
	return bson.D{{Key: opts.OrderBy, Value: dir}}, nil
}

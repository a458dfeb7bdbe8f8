package postgres

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jackc/pgx/v5"

	"github.com/stratumhq/stratum-engine/pkg/modelspec"
)

// columnName maps a wire field name to its column. Declared camelCase names
// become snake_case; underscore-prefixed system names map verbatim.
func columnName(field string) string {
	if strings.HasPrefix(field, "_") {
		return field
	}
	return strcase.ToSnake(field)
}

// wireName is the inverse of columnName for result rows.
func wireName(column string) string {
	if strings.HasPrefix(column, "_") {
		return column
	}
	return strcase.ToLowerCamel(column)
}

// quoteIdent double-quotes an identifier for interpolation into SQL text.
// Everything quoted this way is whitelisted against a ModelSpec first; values
// always travel as bind parameters.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// columnPair maps one column to its wire field name.
type columnPair struct {
	column string
	wire   string
}

// columnPairs enumerates the columns a spec's table carries, in stable order:
// _id, tenancy, audit columns, then declared fields.
func (s *store) columnPairs(spec *modelspec.Spec) []columnPair {
	pairs := make([]columnPair, 0, len(spec.Fields())+8)
	add := func(wire string) {
		pairs = append(pairs, columnPair{column: columnName(wire), wire: wire})
	}

	add(modelspec.FieldID)
	if s.provider.multiTenant && spec.TenantScoped() {
		add(modelspec.FieldOrgID)
	}
	if spec.IsAuditable() {
		add(modelspec.FieldCreated)
		add(modelspec.FieldCreatedBy)
		add(modelspec.FieldUpdated)
		add(modelspec.FieldUpdatedBy)
		add(modelspec.FieldDeleted)
		add(modelspec.FieldDeletedBy)
	}
	for _, f := range spec.Fields() {
		add(f.Name)
	}
	return pairs
}

// tableColumns is columnPairs reduced to the column names.
func (s *store) tableColumns(spec *modelspec.Spec) []string {
	pairs := s.columnPairs(spec)
	cols := make([]string, len(pairs))
	for i, p := range pairs {
		cols[i] = p.column
	}
	return cols
}

// allowedField reports whether a wire field name is usable in filters, sort,
// and write sets for the given spec.
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

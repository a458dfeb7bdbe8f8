package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jackc/pgx/v5"

	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
)

// ModelTarget materializes system models on a backend. Both targets implement
// it, so the synthetic source stays backend-agnostic.
type ModelTarget interface {
	CreateModel(ctx context.Context, m models.SystemModel) error
	DropModel(ctx context.Context, m models.SystemModel) error
}

// columnName must match the relational adapter's mapping: declared camelCase
// names become snake_case columns, underscore-prefixed system names map
// verbatim.
func columnName(field string) string {
	if strings.HasPrefix(field, "_") {
		return field
	}
	return strcase.ToSnake(field)
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// columnType maps a declared field type to its relational column type.
func columnType(t modelspec.FieldType) string {
	switch t {
	case modelspec.TypeString:
		return "TEXT"
	case modelspec.TypeNumber:
		return "DOUBLE PRECISION"
	case modelspec.TypeInteger:
		return "BIGINT"
	case modelspec.TypeBoolean:
		return "BOOLEAN"
	case modelspec.TypeTimestamp:
		return "TIMESTAMPTZ"
	case modelspec.TypeID:
		return "BIGINT"
	default: // object, array
		return "JSONB"
	}
}

// createTableSQL renders the table for one system model: identity _id, the
// tenant column when scoped, the audit sextet when auditable, then the
// declared fields with NOT NULL on required ones.
func createTableSQL(m models.SystemModel, multiTenant bool) string {
	var cols []string
	cols = append(cols, fmt.Sprintf("\t%s BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY", quoteIdent(modelspec.FieldID)))

	if multiTenant && m.Spec.TenantScoped() {
		cols = append(cols, fmt.Sprintf("\t%s BIGINT", quoteIdent(modelspec.FieldOrgID)))
	}
	if m.Spec.IsAuditable() {
		cols = append(cols,
			fmt.Sprintf("\t%s TIMESTAMPTZ", quoteIdent(modelspec.FieldCreated)),
			fmt.Sprintf("\t%s BIGINT", quoteIdent(modelspec.FieldCreatedBy)),
			fmt.Sprintf("\t%s TIMESTAMPTZ", quoteIdent(modelspec.FieldUpdated)),
			fmt.Sprintf("\t%s BIGINT", quoteIdent(modelspec.FieldUpdatedBy)),
			fmt.Sprintf("\t%s TIMESTAMPTZ", quoteIdent(modelspec.FieldDeleted)),
			fmt.Sprintf("\t%s BIGINT", quoteIdent(modelspec.FieldDeletedBy)),
		)
	}
	for _, f := range m.Spec.Fields() {
		col := fmt.Sprintf("\t%s %s", quoteIdent(columnName(f.Name)), columnType(f.Type))
		if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		quoteIdent(m.Spec.StorageName()), strings.Join(cols, ",\n"))
}

func dropTableSQL(spec *modelspec.Spec) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(spec.StorageName()))
}

// uniqueIndexSQL renders one CREATE UNIQUE INDEX per declared unique field
// set, widened with _orgId on tenant-scoped models in multi-tenant mode.
func uniqueIndexSQL(m models.SystemModel, multiTenant bool) []string {
	statements := make([]string, 0, len(m.UniqueIndexes))
	for _, fields := range m.UniqueIndexes {
		fields = widenIndex(m, fields, multiTenant)
		cols := make([]string, len(fields))
		for i, field := range fields {
			cols[i] = quoteIdent(columnName(field))
		}
		statements = append(statements, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(indexName(m.Spec, fields)), quoteIdent(m.Spec.StorageName()), strings.Join(cols, ", ")))
	}
	return statements
}

// widenIndex appends _orgId to a unique index on a tenant-scoped model in
// multi-tenant mode, so uniqueness holds per organization rather than
// globally.
func widenIndex(m models.SystemModel, fields []string, multiTenant bool) []string {
	if !multiTenant || !m.Spec.TenantScoped() {
		return fields
	}
	widened := make([]string, 0, len(fields)+1)
	widened = append(widened, fields...)
	return append(widened, modelspec.FieldOrgID)
}

// indexName derives a stable index name from the storage name and the indexed
// fields, identical on both backends.
func indexName(spec *modelspec.Spec, fields []string) string {
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = strcase.ToSnake(strings.TrimPrefix(field, "_"))
	}
	return "ux_" + spec.StorageName() + "_" + strings.Join(parts, "_")
}

package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
)

// gadgetModel covers every declared field type.
func gadgetModel() models.SystemModel {
	spec := modelspec.MustNew(modelspec.Config{
		Name: "gadget",
		Fields: []modelspec.Field{
			{Name: "title", Type: modelspec.TypeString, Required: true},
			{Name: "price", Type: modelspec.TypeNumber},
			{Name: "stock", Type: modelspec.TypeInteger},
			{Name: "active", Type: modelspec.TypeBoolean},
			{Name: "launchedAt", Type: modelspec.TypeTimestamp},
			{Name: "ownerId", Type: modelspec.TypeID},
			{Name: "attrs", Type: modelspec.TypeObject},
			{Name: "tags", Type: modelspec.TypeArray},
		},
		Auditable:    true,
		TenantScoped: true,
	})
	return models.SystemModel{Spec: spec, UniqueIndexes: [][]string{{"title"}}}
}

// systemModel pulls one entry out of the persisted layout by spec name.
func systemModel(t *testing.T, name string) models.SystemModel {
	t.Helper()
	for _, m := range models.All() {
		if m.Spec.Name() == name {
			return m
		}
	}
	t.Fatalf("no system model named %s", name)
	return models.SystemModel{}
}

func TestCreateTableSQLCoversEveryType(t *testing.T) {
	sql := createTableSQL(gadgetModel(), true)

	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "gadgets"`)
	assert.Contains(t, sql, `"_id" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY`)
	assert.Contains(t, sql, `"_orgId" BIGINT`)
	assert.Contains(t, sql, `"_created" TIMESTAMPTZ`)
	assert.Contains(t, sql, `"_createdBy" BIGINT`)
	assert.Contains(t, sql, `"_updated" TIMESTAMPTZ`)
	assert.Contains(t, sql, `"_deleted" TIMESTAMPTZ`)
	assert.Contains(t, sql, `"_deletedBy" BIGINT`)
	assert.Contains(t, sql, `"title" TEXT NOT NULL`)
	assert.Contains(t, sql, `"price" DOUBLE PRECISION`)
	assert.Contains(t, sql, `"stock" BIGINT`)
	assert.Contains(t, sql, `"active" BOOLEAN`)
	assert.Contains(t, sql, `"launched_at" TIMESTAMPTZ`)
	assert.Contains(t, sql, `"owner_id" BIGINT`)
	assert.Contains(t, sql, `"attrs" JSONB`)
	assert.Contains(t, sql, `"tags" JSONB`)
}

func TestCreateTableSQLSingleTenantOmitsOrgColumn(t *testing.T) {
	sql := createTableSQL(gadgetModel(), false)
	assert.NotContains(t, sql, "_orgId")
}

func TestCreateTableSQLUnscopedModelOmitsOrgColumn(t *testing.T) {
	// Refresh tokens belong to users, not organizations; the tenant column is
	// omitted even in multi-tenant mode.
	sql := createTableSQL(systemModel(t, "refreshToken"), true)
	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "refresh_tokens"`)
	assert.NotContains(t, sql, "_orgId")
	assert.NotContains(t, sql, "_created", "refresh tokens are not auditable")
}

func TestCreateTableSQLNonAuditableOmitsAuditColumns(t *testing.T) {
	sql := createTableSQL(systemModel(t, "organization"), true)
	assert.NotContains(t, sql, "_created")
	assert.NotContains(t, sql, "_updatedBy")
	assert.Contains(t, sql, `"is_meta_org" BOOLEAN`)
}

func TestUniqueIndexSQLWidensTenantScopedIndexes(t *testing.T) {
	users := systemModel(t, "user")

	multi := uniqueIndexSQL(users, true)
	require.Len(t, multi, 1)
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "ux_users_email_org_id" ON "users" ("email", "_orgId")`, multi[0])

	single := uniqueIndexSQL(users, false)
	require.Len(t, single, 1)
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "ux_users_email" ON "users" ("email")`, single[0])
}

func TestUniqueIndexSQLCompositeIndex(t *testing.T) {
	userRoles := systemModel(t, "userRole")

	statements := uniqueIndexSQL(userRoles, true)
	require.Len(t, statements, 1)
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS "ux_user_roles_user_id_role_id_org_id" ON "user_roles" ("user_id", "role_id", "_orgId")`,
		statements[0])
}

func TestUniqueIndexSQLUnscopedModelIsNeverWidened(t *testing.T) {
	tokens := systemModel(t, "refreshToken")

	statements := uniqueIndexSQL(tokens, true)
	require.Len(t, statements, 1)
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "ux_refresh_tokens_token" ON "refresh_tokens" ("token")`, statements[0])
}

func TestDropTableSQL(t *testing.T) {
	assert.Equal(t, `DROP TABLE IF EXISTS "users"`, dropTableSQL(systemModel(t, "user").Spec))
}

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/crypto"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

func TestSystemModelsRegisterCleanly(t *testing.T) {
	reg, err := modelspec.NewRegistry(Specs()...)
	require.NoError(t, err)
	assert.Len(t, reg.All(), 7)
}

func TestTenantScopedLayout(t *testing.T) {
	scoped := map[string]bool{}
	for _, m := range All() {
		scoped[m.Spec.Name()] = m.Spec.TenantScoped()
	}

	assert.False(t, scoped["organization"], "an organization is the tenant, not tenant data")
	assert.False(t, scoped["refreshToken"], "refresh tokens are keyed by user, not organization")
	for _, name := range []string{"user", "role", "userRole", "feature", "authorization"} {
		assert.True(t, scoped[name], name)
	}
}

func TestDerivedNames(t *testing.T) {
	assert.Equal(t, "organizations", Organizations.StorageName())
	assert.Equal(t, "refresh_tokens", RefreshTokens.StorageName())
	assert.Equal(t, "user_roles", UserRoles.StorageName())
	assert.Equal(t, "refresh-tokens", RefreshTokens.Slug())
	assert.Equal(t, "user-roles", UserRoles.Slug())
	assert.Equal(t, "authorizations", Authorizations.StorageName())
}

func TestUserProjectionHidesPassword(t *testing.T) {
	wire := map[string]any{
		"_id":         "1",
		"email":       "ada@example.com",
		"password":    "$2a$10$abcdefghijklmnopqrstuv",
		"displayName": "Ada",
	}
	projected := Users.Project(wire)
	assert.NotContains(t, projected, "password")
	assert.Equal(t, "ada@example.com", projected["email"])
	assert.Contains(t, projected, "_id")
}

func TestUserHooksNormalizeAndHash(t *testing.T) {
	hooks := UserHooks()

	entities, err := hooks.BeforeCreate(context.Background(), []storage.Entity{
		{"email": "  Ada@Example.COM ", "password": "hunter2"},
	})
	require.NoError(t, err)

	e := entities[0]
	assert.Equal(t, "ada@example.com", e["email"])
	hash, _ := e["password"].(string)
	require.True(t, crypto.IsBcryptHash(hash), "plaintext must be hashed before storage")
	assert.NoError(t, crypto.VerifyPassword(hash, "hunter2"))
}

func TestUserHooksKeepExistingHashes(t *testing.T) {
	hooks := UserHooks()
	hash, err := crypto.HashPassword("hunter2")
	require.NoError(t, err)

	entities, err := hooks.BeforeUpdate(context.Background(), []storage.Entity{
		{"password": hash},
	})
	require.NoError(t, err)
	assert.Equal(t, hash, entities[0]["password"], "hashes must not be double-hashed")
}

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/identity"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

func TestPassthroughScope(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := Passthrough()

	opts := storage.QueryOptions{Filters: map[string]storage.Predicate{"name": storage.Eq("x")}}
	got, err := scope.PrepareQuery(context.Background(), mock, opts)
	require.NoError(t, err)
	assert.Equal(t, opts, got)

	entity := storage.Entity{"name": "x"}
	gotEntity, err := scope.PrepareEntity(context.Background(), mock, entity)
	require.NoError(t, err)
	assert.Equal(t, entity, gotEntity)
	assert.False(t, scope.Scoped())
}

func TestTenantScopeRejectsUnparseableOrg(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := TenantScope("1", audit.NewSecurityAuditor(zap.NewNop()))

	ctx := userCtx("42", "not-an-id")
	_, err := scope.PrepareQuery(ctx, mock, storage.QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.As(err).Kind)
}

func TestTenantScopePrepareEntityInjectsWireOrg(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := TenantScope("1", audit.NewSecurityAuditor(zap.NewNop()))

	got, err := scope.PrepareEntity(userCtx("42", "9"), mock, storage.Entity{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "9", got["_orgId"], "injection happens in wire form; decode materializes it")
	assert.True(t, scope.Scoped())
}

func TestTenantScopePrepareEntityAcceptsMatchingOrg(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := TenantScope("1", audit.NewSecurityAuditor(zap.NewNop()))

	got, err := scope.PrepareEntity(userCtx("42", "9"), mock, storage.Entity{"name": "x", "_orgId": "9"})
	require.NoError(t, err)
	assert.Equal(t, "9", got["_orgId"])
}

func TestTenantScopePrepareEntityDoesNotMutateInput(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := TenantScope("1", audit.NewSecurityAuditor(zap.NewNop()))

	in := storage.Entity{"name": "x"}
	_, err := scope.PrepareEntity(userCtx("42", "9"), mock, in)
	require.NoError(t, err)
	assert.NotContains(t, in, "_orgId")
}

func TestTenantScopeSystemBypassRequiresMetaOrg(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := TenantScope("1", audit.NewSecurityAuditor(zap.NewNop()))

	// A system context in a regular org is still scoped to that org.
	ctx := identity.SetUserContext(context.Background(), identity.UserContext{
		User:     map[string]any{"_id": "1"},
		OrgID:    "9",
		IsSystem: true,
	})
	opts, err := scope.PrepareQuery(ctx, mock, storage.QueryOptions{})
	require.NoError(t, err)
	assert.Contains(t, opts.Filters, "_orgId")
}

func TestMetaOrgOnlyAdmitsOperators(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := MetaOrgOnly("1", audit.NewSecurityAuditor(zap.NewNop()))

	opts := storage.QueryOptions{Filters: map[string]storage.Predicate{"name": storage.Eq("x")}}
	got, err := scope.PrepareQuery(userCtx("42", "1"), mock, opts)
	require.NoError(t, err)
	assert.Equal(t, opts, got, "operators see everything; no filter is added")

	entity := storage.Entity{"name": "x"}
	gotEntity, err := scope.PrepareEntity(userCtx("42", "1"), mock, entity)
	require.NoError(t, err)
	assert.Equal(t, entity, gotEntity)
	assert.True(t, scope.Scoped())
}

func TestMetaOrgOnlyRejectsTenantCallers(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := MetaOrgOnly("1", audit.NewSecurityAuditor(zap.NewNop()))

	_, err := scope.PrepareQuery(userCtx("42", "9"), mock, storage.QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.As(err).Kind)

	_, err = scope.PrepareEntity(userCtx("42", "9"), mock, storage.Entity{"name": "x"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.As(err).Kind)
}

func TestMetaOrgOnlyRejectsMissingContext(t *testing.T) {
	mock := &mockStore{spec: auditableSpec(t)}
	scope := MetaOrgOnly("1", nil)

	_, err := scope.PrepareQuery(context.Background(), mock, storage.QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.As(err).Kind)
}

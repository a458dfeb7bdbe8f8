package services

import (
	"context"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/identity"
	"github.com/stratumhq/stratum-engine/pkg/jsonutil"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// ScopePolicy decides what an operation may see and touch. The generic
// pipeline calls it on every read selector and every write payload.
type ScopePolicy interface {
	// PrepareQuery adds the policy's constraints to a read, update, or delete
	// selector.
	PrepareQuery(ctx context.Context, store storage.Store, opts storage.QueryOptions) (storage.QueryOptions, error)
	// PrepareEntity forces the policy's fields into a write payload. It runs
	// after tampering protection and before audit stamping, so the payload
	// still carries wire-form values.
	PrepareEntity(ctx context.Context, store storage.Store, entity storage.Entity) (storage.Entity, error)
	// Scoped reports whether the policy constrains visibility. By-id
	// operations use it to decide whether an ownership pre-check is needed.
	Scoped() bool
}

// Passthrough is the single-tenant policy: no constraints.
func Passthrough() ScopePolicy { return passthrough{} }

type passthrough struct{}

func (passthrough) PrepareQuery(_ context.Context, _ storage.Store, opts storage.QueryOptions) (storage.QueryOptions, error) {
	return opts, nil
}

func (passthrough) PrepareEntity(_ context.Context, _ storage.Store, entity storage.Entity) (storage.Entity, error) {
	return entity, nil
}

func (passthrough) Scoped() bool { return false }

// MetaOrgOnly restricts a resource to callers operating in the meta
// organization. Platform surfaces, the organizations directory first among
// them, are all-or-nothing: operators see every row, tenant callers are
// rejected outright and the rejection is reported to the security auditor.
func MetaOrgOnly(metaOrgID string, auditor *audit.SecurityAuditor) ScopePolicy {
	return &metaOrgOnly{metaOrgID: metaOrgID, auditor: auditor}
}

type metaOrgOnly struct {
	metaOrgID string
	auditor   *audit.SecurityAuditor
}

func (m *metaOrgOnly) Scoped() bool { return true }

func (m *metaOrgOnly) check(ctx context.Context, store storage.Store, operation string) error {
	uc, ok := identity.GetUserContext(ctx)
	if ok && uc.OrgID != "" && uc.OrgID == m.metaOrgID {
		return nil
	}
	if m.auditor != nil {
		m.auditor.LogTenantViolation(ctx, store.Spec().Name(), audit.TenantViolationDetails{
			Operation:    operation,
			RequestedOrg: m.metaOrgID,
		})
	}
	return apperrors.Forbidden("operation requires the meta organization")
}

func (m *metaOrgOnly) PrepareQuery(ctx context.Context, store storage.Store, opts storage.QueryOptions) (storage.QueryOptions, error) {
	if err := m.check(ctx, store, "read"); err != nil {
		return storage.QueryOptions{}, err
	}
	return opts, nil
}

func (m *metaOrgOnly) PrepareEntity(ctx context.Context, store storage.Store, entity storage.Entity) (storage.Entity, error) {
	if err := m.check(ctx, store, "write"); err != nil {
		return nil, err
	}
	return entity, nil
}

// TenantScope isolates every operation to the acting user's organization:
// reads and deletes gain an _orgId filter, writes gain an _orgId value, and a
// payload claiming another organization is rejected. The system context
// operating in the meta organization bypasses scoping; that is the channel
// migrations and platform administration run on.
func TenantScope(metaOrgID string, auditor *audit.SecurityAuditor) ScopePolicy {
	return &tenantScope{metaOrgID: metaOrgID, auditor: auditor}
}

type tenantScope struct {
	metaOrgID string
	auditor   *audit.SecurityAuditor
}

func (t *tenantScope) Scoped() bool { return true }

func (t *tenantScope) bypasses(uc identity.UserContext) bool {
	return uc.IsSystem && uc.OrgID != "" && uc.OrgID == t.metaOrgID
}

func (t *tenantScope) PrepareQuery(ctx context.Context, store storage.Store, opts storage.QueryOptions) (storage.QueryOptions, error) {
	uc, ok := identity.GetUserContext(ctx)
	if !ok || uc.OrgID == "" {
		return storage.QueryOptions{}, apperrors.Forbidden("operation requires a tenant scope")
	}
	if t.bypasses(uc) {
		return opts, nil
	}

	native, err := store.IDSchema().Parse(uc.OrgID)
	if err != nil {
		return storage.QueryOptions{}, apperrors.Forbidden("invalid tenant scope")
	}
	return opts.WithFilter(modelspec.FieldOrgID, storage.Eq(native)), nil
}

func (t *tenantScope) PrepareEntity(ctx context.Context, store storage.Store, entity storage.Entity) (storage.Entity, error) {
	uc, ok := identity.GetUserContext(ctx)
	if !ok || uc.OrgID == "" {
		return nil, apperrors.Forbidden("operation requires a tenant scope")
	}
	if t.bypasses(uc) {
		return entity, nil
	}

	if raw, present := entity[modelspec.FieldOrgID]; present && raw != nil {
		claimed, _ := jsonutil.CoerceString(raw)
		if claimed != uc.OrgID {
			if t.auditor != nil {
				t.auditor.LogTenantViolation(ctx, store.Spec().Name(), audit.TenantViolationDetails{
					Operation:    "write",
					RequestedOrg: claimed,
				})
			}
			return nil, apperrors.Forbidden("cannot write outside the current organization")
		}
	}

	out := make(storage.Entity, len(entity)+1)
	for k, v := range entity {
		out[k] = v
	}
	// Wire form here; the decode step materializes the native id.
	out[modelspec.FieldOrgID] = uc.OrgID
	return out, nil
}

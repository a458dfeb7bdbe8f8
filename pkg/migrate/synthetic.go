package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/crypto"
	"github.com/stratumhq/stratum-engine/pkg/identity"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// Fixed names keep the built-in set stable across runs and sorted before any
// file migration, whose stamps are real creation times.
const (
	syntheticSchemaStamp = "202401010000"

	nameBootstrapMetaOrg = "20240101000100_bootstrap_meta_org"
	nameBootstrapAdmin   = "20240101000101_bootstrap_admin_user"
	nameBootstrapGrants  = "20240101000102_bootstrap_admin_grants"
)

// SyntheticConfig drives the built-in migration set.
type SyntheticConfig struct {
	// MultiTenant switches on the organizations table, the meta-org bootstrap,
	// and tenant columns on scoped models.
	MultiTenant bool

	// MetaOrgName and MetaOrgCode describe the operator organization created
	// by the meta-org bootstrap.
	MetaOrgName string
	MetaOrgCode string

	// AdminEmail and AdminPassword seed the initial administrator account.
	// Both empty skips the admin bootstrap; setting only one is a
	// configuration mistake.
	AdminEmail    string
	AdminPassword string

	Manifest Manifest
}

// Synthetic builds the engine's built-in migrations: schema for the system
// models plus the bootstrap rows. Schema steps go through the target; the
// bootstrap writes rows through the provider's stores, below the service
// pipeline, the same channel the auth service uses for refresh tokens.
func Synthetic(target ModelTarget, provider storage.Provider, cfg SyntheticConfig, logger *zap.Logger) Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &synthetic{
		target:   target,
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("bootstrap"),
	}
}

type synthetic struct {
	target   ModelTarget
	provider storage.Provider
	cfg      SyntheticConfig
	logger   *zap.Logger
}

func (s *synthetic) Migrations(context.Context) ([]Migration, error) {
	if (s.cfg.AdminEmail == "") != (s.cfg.AdminPassword == "") {
		return nil, fmt.Errorf("admin bootstrap requires both BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD")
	}
	admin := s.cfg.AdminEmail != "" && !s.cfg.Manifest.Disabled(GroupAdmin)
	if admin && (s.cfg.Manifest.Disabled(GroupAuth) || s.cfg.Manifest.Disabled(GroupRBAC)) {
		return nil, fmt.Errorf("admin bootstrap requires the %q and %q groups", GroupAuth, GroupRBAC)
	}

	var migs []Migration
	for i, m := range models.All() {
		g := group(m.Spec)
		if g == GroupTenancy && !s.cfg.MultiTenant {
			continue
		}
		if s.cfg.Manifest.Disabled(g) {
			continue
		}
		migs = append(migs, s.schemaMigration(i, m))
	}

	if s.cfg.MultiTenant && !s.cfg.Manifest.Disabled(GroupTenancy) {
		migs = append(migs, s.bootstrapMetaOrg())
	}
	if admin {
		migs = append(migs, s.bootstrapAdminUser(), s.bootstrapAdminGrants())
	}
	return migs, nil
}

// group assigns each system model to its manifest switch.
func group(spec *modelspec.Spec) string {
	switch spec.Name() {
	case "organization":
		return GroupTenancy
	case "user", "refreshToken":
		return GroupAuth
	case "role", "userRole", "feature", "authorization":
		return GroupRBAC
	default:
		return ""
	}
}

// schemaMigration creates one model's table or collection. The stamp index is
// the model's position in the creation order, so names stay stable when a
// group is disabled.
func (s *synthetic) schemaMigration(idx int, m models.SystemModel) Migration {
	return Migration{
		Name: fmt.Sprintf("%s%02d_create_%s", syntheticSchemaStamp, idx, m.Spec.StorageName()),
		Up: func(ctx context.Context) error {
			return s.target.CreateModel(ctx, m)
		},
		Down: func(ctx context.Context) error {
			return s.target.DropModel(ctx, m)
		},
	}
}

// bootstrapMetaOrg creates the operator organization and installs the
// process-wide system context from the created row. Every later bootstrap
// step, and tenant scoping itself, hangs off that context.
func (s *synthetic) bootstrapMetaOrg() Migration {
	return Migration{
		Name: nameBootstrapMetaOrg,
		Up: func(ctx context.Context) error {
			orgs := s.provider.Store(models.Organizations)
			created, err := orgs.Create(ctx, storage.Entity{
				"name":      s.cfg.MetaOrgName,
				"code":      s.cfg.MetaOrgCode,
				"isMetaOrg": true,
			})
			if err != nil {
				return fmt.Errorf("failed to create the meta organization: %w", err)
			}

			orgID, ok := orgs.IDSchema().Format(created[modelspec.FieldID])
			if !ok {
				return fmt.Errorf("meta organization row carries no usable id")
			}
			identity.InitializeSystemContext(map[string]any{}, orgID)
			s.logger.Info("Meta organization created",
				zap.String("code", s.cfg.MetaOrgCode), zap.String("org_id", orgID))
			return nil
		},
		Down: func(ctx context.Context) error {
			orgs := s.provider.Store(models.Organizations)
			_, err := orgs.DeleteMany(ctx, filterEq("code", s.cfg.MetaOrgCode))
			return err
		},
	}
}

// bootstrapAdminUser creates the initial administrator. The password arrives
// in plaintext from the environment and is hashed here; storage never sees it
// unhashed.
func (s *synthetic) bootstrapAdminUser() Migration {
	return Migration{
		Name: nameBootstrapAdmin,
		Up: func(ctx context.Context) error {
			uc, err := s.systemContext(ctx)
			if err != nil {
				return err
			}

			hash, err := crypto.HashPassword(s.cfg.AdminPassword)
			if err != nil {
				return fmt.Errorf("failed to hash the admin password: %w", err)
			}

			users := s.provider.Store(models.Users)
			entity, err := s.row(users, uc, time.Now().UTC(), storage.Entity{
				"email":       normalizeEmail(s.cfg.AdminEmail),
				"password":    hash,
				"displayName": "Administrator",
			})
			if err != nil {
				return err
			}
			if _, err := users.Create(ctx, entity); err != nil {
				return fmt.Errorf("failed to create the admin user: %w", err)
			}
			s.logger.Info("Admin user created", zap.String("email", normalizeEmail(s.cfg.AdminEmail)))
			return nil
		},
		Down: func(ctx context.Context) error {
			users := s.provider.Store(models.Users)
			_, err := users.DeleteMany(ctx, filterEq("email", normalizeEmail(s.cfg.AdminEmail)))
			return err
		},
	}
}

// bootstrapAdminGrants creates the admin role, assigns it to the admin user,
// seeds the manifest's features, and grants the role read and write on each.
func (s *synthetic) bootstrapAdminGrants() Migration {
	return Migration{
		Name: nameBootstrapGrants,
		Up: func(ctx context.Context) error {
			uc, err := s.systemContext(ctx)
			if err != nil {
				return err
			}
			now := time.Now().UTC()

			roles := s.provider.Store(models.Roles)
			roleRow, err := s.row(roles, uc, now, storage.Entity{
				"name":        models.AdminRoleName,
				"description": "Platform administrator",
			})
			if err != nil {
				return err
			}
			role, err := roles.Create(ctx, roleRow)
			if err != nil {
				return fmt.Errorf("failed to create the admin role: %w", err)
			}

			users := s.provider.Store(models.Users)
			adminUser, err := users.FindOne(ctx, filterEq("email", normalizeEmail(s.cfg.AdminEmail)))
			if err != nil {
				return fmt.Errorf("failed to look up the admin user: %w", err)
			}
			if adminUser == nil {
				return fmt.Errorf("admin user %s does not exist; the admin user bootstrap must run first", normalizeEmail(s.cfg.AdminEmail))
			}

			userRoles := s.provider.Store(models.UserRoles)
			linkRow, err := s.row(userRoles, uc, now, storage.Entity{
				"userId": adminUser[modelspec.FieldID],
				"roleId": role[modelspec.FieldID],
			})
			if err != nil {
				return err
			}
			if _, err := userRoles.Create(ctx, linkRow); err != nil {
				return fmt.Errorf("failed to assign the admin role: %w", err)
			}

			features := s.provider.Store(models.Features)
			auths := s.provider.Store(models.Authorizations)
			for _, seed := range s.cfg.Manifest.Features {
				featureRow, err := s.row(features, uc, now, storage.Entity{
					"name":        seed.Name,
					"description": seed.Description,
				})
				if err != nil {
					return err
				}
				feature, err := features.Create(ctx, featureRow)
				if err != nil {
					return fmt.Errorf("failed to seed feature %s: %w", seed.Name, err)
				}

				authRow, err := s.row(auths, uc, now, storage.Entity{
					"roleId":    role[modelspec.FieldID],
					"featureId": feature[modelspec.FieldID],
					"canRead":   true,
					"canWrite":  true,
				})
				if err != nil {
					return err
				}
				if _, err := auths.Create(ctx, authRow); err != nil {
					return fmt.Errorf("failed to grant feature %s: %w", seed.Name, err)
				}
			}

			s.logger.Info("Admin grants created",
				zap.String("role", models.AdminRoleName), zap.Int("features", len(s.cfg.Manifest.Features)))
			return nil
		},
		Down: func(ctx context.Context) error {
			roles := s.provider.Store(models.Roles)
			role, err := roles.FindOne(ctx, filterEq("name", models.AdminRoleName))
			if err != nil {
				return err
			}
			if role != nil {
				auths := s.provider.Store(models.Authorizations)
				if _, err := auths.DeleteMany(ctx, filterEq("roleId", role[modelspec.FieldID])); err != nil {
					return err
				}
				userRoles := s.provider.Store(models.UserRoles)
				if _, err := userRoles.DeleteMany(ctx, filterEq("roleId", role[modelspec.FieldID])); err != nil {
					return err
				}
				if _, err := roles.DeleteMany(ctx, filterEq("name", models.AdminRoleName)); err != nil {
					return err
				}
			}

			features := s.provider.Store(models.Features)
			for _, seed := range s.cfg.Manifest.Features {
				if _, err := features.DeleteMany(ctx, filterEq("name", seed.Name)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// systemContext returns the process-wide system context the bootstrap rows
// are written under. Multi-tenant deployments can recover it from the
// meta-org row when the meta-org migration ran in an earlier deployment;
// single-tenant deployments must have initialized it explicitly.
func (s *synthetic) systemContext(ctx context.Context) (identity.UserContext, error) {
	if identity.SystemContextInitialized() {
		return identity.SystemContext()
	}
	if !s.cfg.MultiTenant {
		return identity.UserContext{}, fmt.Errorf("system user context is not initialized; initialize it before the admin bootstrap")
	}
	if _, err := EnsureSystemContext(ctx, s.provider, s.cfg.MetaOrgCode); err != nil {
		return identity.UserContext{}, err
	}
	return identity.SystemContext()
}

// row builds one bootstrap entity in native form: audit stamps when the model
// is auditable, the meta-org tenant value in multi-tenant mode. Bootstrap
// rows carry no By stamps; no user exists when they are written.
func (s *synthetic) row(store storage.Store, uc identity.UserContext, now time.Time, fields storage.Entity) (storage.Entity, error) {
	entity := make(storage.Entity, len(fields)+3)
	for k, v := range fields {
		entity[k] = v
	}
	if store.Spec().IsAuditable() {
		entity[modelspec.FieldCreated] = now
		entity[modelspec.FieldUpdated] = now
	}
	if s.cfg.MultiTenant && uc.OrgID != "" {
		native, err := store.IDSchema().Parse(uc.OrgID)
		if err != nil {
			return nil, fmt.Errorf("invalid meta organization id %q: %w", uc.OrgID, err)
		}
		entity[modelspec.FieldOrgID] = native
	}
	return entity, nil
}

// EnsureSystemContext loads the meta organization and installs the
// process-wide system context from it. Idempotent: an installed context is
// left alone. Multi-tenant startup calls it after migrations so restarts get
// the context the meta-org migration installed on first run.
func EnsureSystemContext(ctx context.Context, provider storage.Provider, metaOrgCode string) (string, error) {
	if identity.SystemContextInitialized() {
		uc, err := identity.SystemContext()
		if err != nil {
			return "", err
		}
		return uc.OrgID, nil
	}

	orgs := provider.Store(models.Organizations)
	row, err := orgs.FindOne(ctx, filterEq("code", metaOrgCode))
	if err != nil {
		return "", fmt.Errorf("failed to load the meta organization: %w", err)
	}
	if row == nil {
		return "", fmt.Errorf("meta organization %q does not exist; run the tenancy bootstrap first", metaOrgCode)
	}
	orgID, ok := orgs.IDSchema().Format(row[modelspec.FieldID])
	if !ok {
		return "", fmt.Errorf("meta organization row carries no usable id")
	}
	identity.InitializeSystemContext(map[string]any{}, orgID)
	return orgID, nil
}

func filterEq(field string, value any) storage.QueryOptions {
	return storage.QueryOptions{Filters: map[string]storage.Predicate{field: storage.Eq(value)}}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

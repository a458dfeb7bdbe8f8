// Package models declares the engine's persisted layout: the system entities
// every deployment carries regardless of which business models it registers.
package models

import "github.com/stratumhq/stratum-engine/pkg/modelspec"

// SystemModel couples a spec with the unique indexes the migration builder
// maintains for it.
type SystemModel struct {
	Spec *modelspec.Spec
	// UniqueIndexes lists unique column sets by wire name. The builder widens
	// each index on a tenant-scoped model with _orgId in multi-tenant mode.
	UniqueIndexes [][]string
}

// All returns the system models in creation order: referenced tables first,
// so foreign keys and bootstrap rows resolve.
func All() []SystemModel {
	return []SystemModel{
		{Spec: Organizations, UniqueIndexes: [][]string{{"name"}, {"code"}}},
		{Spec: Users, UniqueIndexes: [][]string{{"email"}}},
		{Spec: RefreshTokens, UniqueIndexes: [][]string{{"token"}}},
		{Spec: Roles, UniqueIndexes: [][]string{{"name"}}},
		{Spec: UserRoles, UniqueIndexes: [][]string{{"userId", "roleId"}}},
		{Spec: Features, UniqueIndexes: [][]string{{"name"}}},
		{Spec: Authorizations, UniqueIndexes: [][]string{{"roleId", "featureId"}}},
	}
}

// Specs returns the system ModelSpecs in the same order, for the storage
// registry.
func Specs() []*modelspec.Spec {
	all := All()
	specs := make([]*modelspec.Spec, len(all))
	for i, m := range all {
		specs[i] = m.Spec
	}
	return specs
}

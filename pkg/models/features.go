package models

import "github.com/stratumhq/stratum-engine/pkg/modelspec"

// Features names the functional areas authorization grants refer to.
var Features = modelspec.MustNew(modelspec.Config{
	Name: "feature",
	Fields: []modelspec.Field{
		{Name: "name", Type: modelspec.TypeString, Required: true},
		{Name: "description", Type: modelspec.TypeString},
	},
	Auditable:    true,
	TenantScoped: true,
})

// Authorizations grant a role access to a feature.
var Authorizations = modelspec.MustNew(modelspec.Config{
	Name: "authorization",
	Fields: []modelspec.Field{
		{Name: "roleId", Type: modelspec.TypeID, Required: true},
		{Name: "featureId", Type: modelspec.TypeID, Required: true},
		{Name: "canRead", Type: modelspec.TypeBoolean},
		{Name: "canWrite", Type: modelspec.TypeBoolean},
	},
	Auditable:    true,
	TenantScoped: true,
})

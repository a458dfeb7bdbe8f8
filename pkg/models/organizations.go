package models

import "github.com/stratumhq/stratum-engine/pkg/modelspec"

// Organizations is the tenancy root. It is never tenant-scoped itself; in
// multi-tenant mode exactly one row carries isMetaOrg, and that row's id is
// the system identity's organization.
var Organizations = modelspec.MustNew(modelspec.Config{
	Name: "organization",
	Fields: []modelspec.Field{
		{Name: "name", Type: modelspec.TypeString, Required: true},
		{Name: "code", Type: modelspec.TypeString, Required: true},
		{Name: "isMetaOrg", Type: modelspec.TypeBoolean},
	},
})

package models

import "github.com/stratumhq/stratum-engine/pkg/modelspec"

// Roles groups users for authorization grants within one organization.
var Roles = modelspec.MustNew(modelspec.Config{
	Name: "role",
	Fields: []modelspec.Field{
		{Name: "name", Type: modelspec.TypeString, Required: true},
		{Name: "description", Type: modelspec.TypeString},
	},
	Auditable:    true,
	TenantScoped: true,
})

// AdminRoleName is the role the admin bootstrap migration creates and grants
// every feature to.
const AdminRoleName = "admin"

// UserRoles links users to roles.
var UserRoles = modelspec.MustNew(modelspec.Config{
	Name: "userRole",
	Fields: []modelspec.Field{
		{Name: "userId", Type: modelspec.TypeID, Required: true},
		{Name: "roleId", Type: modelspec.TypeID, Required: true},
	},
	Auditable:    true,
	TenantScoped: true,
})

package models

import "github.com/stratumhq/stratum-engine/pkg/modelspec"

// RefreshTokens holds one row per live refresh token: the SHA-256 digest of
// the client-held secret, the owning user, and the expiry. The row is never
// tenant-scoped (its organization is implied through userId) and never
// auditable: the auth service writes it directly, below the pipeline.
var RefreshTokens = modelspec.MustNew(modelspec.Config{
	Name: "refreshToken",
	Fields: []modelspec.Field{
		{Name: "token", Type: modelspec.TypeString, Required: true},
		{Name: "userId", Type: modelspec.TypeID, Required: true},
		{Name: "expiresAt", Type: modelspec.TypeTimestamp, Required: true},
	},
})

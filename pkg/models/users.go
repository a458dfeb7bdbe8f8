package models

import (
	"context"
	"strings"

	"github.com/stratumhq/stratum-engine/pkg/crypto"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/services"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// Users holds login identities. The password column stores bcrypt hashes
// only; the projection keeps it off the wire.
var Users = modelspec.MustNew(modelspec.Config{
	Name: "user",
	Fields: []modelspec.Field{
		{Name: "email", Type: modelspec.TypeString, Required: true},
		{Name: "password", Type: modelspec.TypeString, Required: true},
		{Name: "displayName", Type: modelspec.TypeString},
	},
	Auditable:    true,
	TenantScoped: true,
	Projection:   []string{"email", "displayName"},
})

// UserHooks normalizes emails and hashes plaintext passwords before they
// reach storage. Values that already are bcrypt hashes pass through, so
// system writes may supply pre-hashed credentials.
func UserHooks() services.Hooks {
	normalize := func(ctx context.Context, entities []storage.Entity) ([]storage.Entity, error) {
		for _, e := range entities {
			if email, ok := e["email"].(string); ok {
				e["email"] = strings.ToLower(strings.TrimSpace(email))
			}
			pw, ok := e["password"].(string)
			if !ok || pw == "" || crypto.IsBcryptHash(pw) {
				continue
			}
			hash, err := crypto.HashPassword(pw)
			if err != nil {
				return nil, err
			}
			e["password"] = hash
		}
		return entities, nil
	}
	return services.Hooks{BeforeCreate: normalize, BeforeUpdate: normalize}
}

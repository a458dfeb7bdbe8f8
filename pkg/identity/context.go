// Package identity carries the acting user through a request: who they are,
// which tenant they act in, and whether they run on the system path.
package identity

import "context"

type contextKey string

const (
	// UserContextKey is the context key for the acting user.
	UserContextKey contextKey = "userContext"
)

// UserContext identifies the actor of one operation. It is request-scoped,
// flows by value, and is never stored.
type UserContext struct {
	// User is the acting user entity. Only _id is required; _id and email are
	// the fields the pipeline reads.
	User map[string]any
	// OrgID is the tenant the actor operates in. Empty in single-tenant mode.
	OrgID string
	// IsSystem is true only for contexts obtained through the bootstrap path.
	// External requests cannot set it.
	IsSystem bool
}

// UserID returns the acting user's _id as a string, or "" when absent.
func (uc UserContext) UserID() string {
	if uc.User == nil {
		return ""
	}
	if id, ok := uc.User["_id"].(string); ok {
		return id
	}
	return ""
}

// Email returns the acting user's email, or "".
func (uc UserContext) Email() string {
	if uc.User == nil {
		return ""
	}
	if email, ok := uc.User["email"].(string); ok {
		return email
	}
	return ""
}

// GetUserContext retrieves the acting user from context.
// Returns a zero value and false if not present.
func GetUserContext(ctx context.Context) (UserContext, bool) {
	uc, ok := ctx.Value(UserContextKey).(UserContext)
	return uc, ok
}

// SetUserContext stores the acting user in context.
func SetUserContext(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, uc)
}

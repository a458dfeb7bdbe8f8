// Package auth issues and verifies the JWTs that guard the API: bearer-token
// middleware, an HS256 or JWKS-backed verifier, and the login surface that
// exchanges credentials for an access/refresh token pair.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims is the JWT payload this engine issues and accepts. Subject carries
// the user id in wire form; Org carries the tenant in multi-tenant mode.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Org   string `json:"org,omitempty"`
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

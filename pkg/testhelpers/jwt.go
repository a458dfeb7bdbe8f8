// Package testhelpers provides shared fixtures for integration tests: the
// backend containers and token minting.
package testhelpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stratumhq/stratum-engine/pkg/auth"
)

// SignToken mints an HS256 access token the secret-mode verifier accepts.
func SignToken(t *testing.T, secret, issuer, sub, email, org string) string {
	t.Helper()

	now := time.Now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: email,
		Org:   org,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return signed
}

// BearerToken is SignToken with the Authorization header prefix.
func BearerToken(t *testing.T, secret, issuer, sub, email, org string) string {
	return "Bearer " + SignToken(t, secret, issuer, sub, email, org)
}

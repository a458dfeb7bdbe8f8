package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stratumhq/stratum-engine/pkg/config"
	"github.com/stratumhq/stratum-engine/pkg/retry"
)

// TokenVerifier validates a JWT token string and returns the claims.
// This abstraction enables testing with mock implementations.
type TokenVerifier interface {
	// VerifyToken returns an error if the token is invalid, expired, or was
	// issued by an unauthorized issuer.
	VerifyToken(tokenString string) (*Claims, error)
}

// NewVerifier builds the verifier the config selects: an HS256 shared-secret
// verifier, or an RS256 verifier backed by the configured JWKS endpoints.
func NewVerifier(cfg config.AuthConfig) (TokenVerifier, error) {
	switch cfg.Mode {
	case config.AuthModeSecret:
		return &secretVerifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
	case config.AuthModeJWKS:
		return newJWKSVerifier(cfg.JWKSEndpoints)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// secretVerifier verifies HS256 tokens signed with the shared engine secret.
// This is the mode the built-in login surface issues tokens for.
type secretVerifier struct {
	secret []byte
	issuer string
}

func (v *secretVerifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// jwksVerifier validates RS256 tokens using JWKS (JSON Web Key Set) endpoints.
// It fetches public keys from configured JWKS URLs and uses them to verify
// JWT signatures. Only tokens from whitelisted issuers are accepted.
type jwksVerifier struct {
	endpoints map[string]keyfunc.Keyfunc
}

// newJWKSVerifier fetches JWKS from all configured endpoints up front.
// Returns an error if any JWKS endpoint fails to load. Endpoints are a startup
// dependency like the database, so transient fetch failures are retried with
// the same backoff.
func newJWKSVerifier(endpoints map[string]string) (*jwksVerifier, error) {
	v := &jwksVerifier{endpoints: make(map[string]keyfunc.Keyfunc, len(endpoints))}
	for issuer, jwksURL := range endpoints {
		var jwks keyfunc.Keyfunc
		err := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
			k, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
			if err != nil {
				return err
			}
			jwks = k
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		v.endpoints[issuer] = jwks
	}
	return v, nil
}

func (v *jwksVerifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("invalid claims type")
		}

		// Look up JWKS for this issuer
		jwks, exists := v.endpoints[claims.Issuer]
		if !exists {
			return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
		}

		keyfuncFn := jwks.KeyfuncCtx(context.Background())
		return keyfuncFn(token)
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

var (
	_ TokenVerifier = (*secretVerifier)(nil)
	_ TokenVerifier = (*jwksVerifier)(nil)
)

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/identity"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// Middleware guards API routes: it validates the bearer token and materializes
// the acting user into the request context. It is thin and delegates token
// checks to the TokenVerifier.
type Middleware struct {
	verifier TokenVerifier
	auditor  *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewMiddleware creates auth middleware over the given verifier. Failures are
// reported to the security auditor with the client address.
func NewMiddleware(verifier TokenVerifier, auditor *audit.SecurityAuditor, logger *zap.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		auditor:  auditor,
		logger:   logger,
	}
}

// RequireAuth validates the JWT and stores claims, raw token, and the derived
// identity.UserContext in the request context. External requests can never
// obtain a system context through this path.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			m.reject(w, r, err.Error())
			return
		}

		claims, err := m.verifier.VerifyToken(tokenString)
		if err != nil {
			m.logger.Debug("JWT validation failed",
				zap.Error(err),
				zap.String("path", r.URL.Path))
			m.reject(w, r, "token validation failed")
			return
		}

		uc := identity.UserContext{
			User:  map[string]any{"_id": claims.Subject, "email": claims.Email},
			OrgID: claims.Org,
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, tokenString)
		ctx = identity.SetUserContext(ctx, uc)
		next(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidAuthFormat
	}
	return parts[1], nil
}

// reject writes a 401 with the standard errors envelope and reports the
// failure for SIEM consumption.
func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if m.auditor != nil {
		m.auditor.LogAuthFailure(r.Context(), reason, ClientIP(r))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{{"message": "authentication required"}},
	})
}

// ClientIP strips the port from the remote address. The login handler uses it
// too, so credential failures and token failures report the same field.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/auth"
)

// stubAuthService answers the credential exchange with canned results.
type stubAuthService struct {
	pair *auth.TokenPair
	err  error

	gotEmail    string
	gotPassword string
	gotToken    string
	revoked     string
}

var _ auth.Service = (*stubAuthService)(nil)

func (s *stubAuthService) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	s.gotEmail, s.gotPassword = email, password
	return s.pair, s.err
}

func (s *stubAuthService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	s.gotToken = refreshToken
	return s.pair, s.err
}

func (s *stubAuthService) Logout(ctx context.Context, refreshToken string) error {
	s.revoked = refreshToken
	return s.err
}

func newAuthMux(t *testing.T, stub *stubAuthService) (*http.ServeMux, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zap.WarnLevel)
	auditor := audit.NewSecurityAuditor(zap.New(core))

	mux := http.NewServeMux()
	NewAuthHandler(stub, auditor, zap.NewNop()).RegisterRoutes(mux, testMiddleware(t))
	return mux, recorded
}

func postJSON(t *testing.T, mux *http.ServeMux, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.RemoteAddr = "203.0.113.9:51442"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestLoginReturnsTokenPair(t *testing.T) {
	stub := &stubAuthService{
		pair: &auth.TokenPair{
			AccessToken:  "header.payload.sig",
			RefreshToken: "refresh-secret",
			ExpiresAt:    time.Date(2026, 4, 2, 9, 15, 0, 0, time.UTC),
			User:         map[string]any{"_id": "u1", "email": "ada@example.com"},
		},
	}
	mux, _ := newAuthMux(t, stub)

	w := postJSON(t, mux, "/api/auth/login", `{"email":"Ada@Example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ada@Example.com", stub.gotEmail, "normalization belongs to the service")
	assert.Equal(t, "pw", stub.gotPassword)

	data := decodeEnvelope(t, w)["data"].(map[string]any)
	assert.Equal(t, "header.payload.sig", data["accessToken"])
	assert.Equal(t, "refresh-secret", data["refreshToken"])
	assert.Equal(t, "u1", data["user"].(map[string]any)["_id"])
}

func TestLoginFailureIsAuditedWithClientIP(t *testing.T) {
	stub := &stubAuthService{err: apperrors.Unauthenticated("invalid credentials")}
	mux, recorded := newAuthMux(t, stub)

	w := postJSON(t, mux, "/api/auth/login", `{"email":"ada@example.com","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	errs := decodeEnvelope(t, w)["errors"].([]any)
	assert.Equal(t, "invalid credentials", errs[0].(map[string]any)["message"])

	logs := recorded.FilterMessage("Authentication failure")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "invalid credentials", fields["reason"])
	assert.Equal(t, "203.0.113.9", fields["client_ip"])
}

func TestLoginRejectsMalformedJSON(t *testing.T) {
	mux, recorded := newAuthMux(t, &stubAuthService{})

	w := postJSON(t, mux, "/api/auth/login", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, recorded.FilterMessage("Authentication failure").Len(),
		"malformed payloads are client errors, not credential failures")
}

func TestRefreshForwardsToken(t *testing.T) {
	stub := &stubAuthService{
		pair: &auth.TokenPair{AccessToken: "a", RefreshToken: "next"},
	}
	mux, _ := newAuthMux(t, stub)

	w := postJSON(t, mux, "/api/auth/refresh", `{"refreshToken":"current"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "current", stub.gotToken)
	assert.Equal(t, "next", decodeEnvelope(t, w)["data"].(map[string]any)["refreshToken"])
}

func TestRefreshFailureIsAudited(t *testing.T) {
	stub := &stubAuthService{err: apperrors.Unauthenticated("invalid refresh token")}
	mux, recorded := newAuthMux(t, stub)

	w := postJSON(t, mux, "/api/auth/refresh", `{"refreshToken":"stolen"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, recorded.FilterMessage("Authentication failure").Len())
}

func TestLogoutRevokesAndAnswersSuccess(t *testing.T) {
	stub := &stubAuthService{}
	mux, _ := newAuthMux(t, stub)

	w := postJSON(t, mux, "/api/auth/logout", `{"refreshToken":"r1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", stub.revoked)
	assert.Equal(t, true, decodeEnvelope(t, w)["data"].(map[string]any)["success"])
}

func TestMeReportsVerifiedClaims(t *testing.T) {
	mux, _ := newAuthMux(t, &stubAuthService{})

	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set("Authorization", bearerHeader(t))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decodeEnvelope(t, w)["data"].(map[string]any)
	assert.Equal(t, "u1", data["id"])
	assert.Equal(t, "ada@example.com", data["email"])
	assert.Equal(t, "9", data["org"])

	// Without a token the middleware answers before the handler runs.
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/auth"
)

// LoginRequest is the credential payload for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries the refresh token for refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// MeResponse describes the authenticated caller, straight from the verified
// claims.
type MeResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Org   string `json:"org,omitempty"`
}

// AuthHandler serves the credential exchange endpoints. It exists only when
// the engine issues its own tokens; with an external JWKS issuer the login
// surface is not registered.
type AuthHandler struct {
	svc     auth.Service
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewAuthHandler creates the auth endpoints over the given service.
func NewAuthHandler(svc auth.Service, auditor *audit.SecurityAuditor, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:     svc,
		auditor: auditor,
		logger:  logger.Named("auth_handler"),
	}
}

// RegisterRoutes registers the auth routes. Login, refresh, and logout are
// unauthenticated by nature; /api/auth/me requires a valid token.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/refresh", h.Refresh)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/auth/me", authMiddleware.RequireAuth(h.Me))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.BadRequest("invalid JSON object: %s", err.Error()))
		return
	}

	pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, pair)
}

// Refresh handles POST /api/auth/refresh, rotating the presented token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.BadRequest("invalid JSON object: %s", err.Error()))
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, pair)
}

// Logout handles POST /api/auth/logout. Revoking an unknown token still
// returns success.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.BadRequest("invalid JSON object: %s", err.Error()))
		return
	}

	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]bool{"success": true})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		h.writeError(w, r, apperrors.Unauthenticated("authentication required"))
		return
	}
	h.writeData(w, http.StatusOK, MeResponse{
		ID:    claims.Subject,
		Email: claims.Email,
		Org:   claims.Org,
	})
}

func (h *AuthHandler) writeData(w http.ResponseWriter, status int, payload any) {
	if err := WriteData(w, status, payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError reports credential failures to the security auditor before
// answering. The middleware covers token failures; this covers login and
// refresh.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperrors.Classify(err)
	switch ae.Kind {
	case apperrors.KindUnauthenticated:
		if h.auditor != nil {
			h.auditor.LogAuthFailure(r.Context(), ae.Message, auth.ClientIP(r))
		}
	case apperrors.KindInternal, apperrors.KindTimeout:
		h.logger.Error("Auth request failed", zap.Error(err))
	}
	if werr := WriteError(w, ae); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/config"
	"github.com/stratumhq/stratum-engine/pkg/crypto"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// TokenPair is what a successful login or refresh returns: a short-lived
// access JWT and a rotating refresh token. User is the wire-form user record
// with its projection applied.
type TokenPair struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	User         map[string]any `json:"user"`
}

// Service is the credential exchange surface. It operates below the tenant
// scope: a login request has no user context yet.
type Service interface {
	// Login checks email and password and issues a token pair. The failure
	// reason is never distinguished on the wire.
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	// Refresh rotates a refresh token: the presented token is revoked and a
	// fresh pair is issued.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	// Logout revokes a refresh token. Revoking an unknown token is a no-op.
	Logout(ctx context.Context, refreshToken string) error
}

type authService struct {
	users      storage.Store
	tokens     storage.Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService builds the login surface over the users and refresh token
// stores. Issuing is HS256-only; in JWKS mode tokens come from an external
// issuer and this surface is not registered.
func NewService(users, tokens storage.Store, cfg config.AuthConfig, logger *zap.Logger) (Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: token issuing requires a signing secret")
	}
	return &authService{
		users:      users,
		tokens:     tokens,
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		clock:      time.Now,
		logger:     logger.Named("auth"),
	}, nil
}

var _ Service = (*authService)(nil)

func (s *authService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperrors.Unauthenticated("invalid credentials")
	}

	user, err := s.users.FindOne(ctx, storage.QueryOptions{
		Filters: map[string]storage.Predicate{"email": storage.Eq(email)},
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.Unauthenticated("invalid credentials")
	}

	hash, _ := user["password"].(string)
	if err := crypto.VerifyPassword(hash, password); err != nil {
		s.logger.Debug("password check failed", zap.String("email", email))
		return nil, apperrors.Unauthenticated("invalid credentials")
	}

	return s.issuePair(ctx, user)
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	row, err := s.findTokenRow(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if expiresAt, ok := row[fieldExpiresAt].(time.Time); !ok || s.clock().After(expiresAt) {
		// An expired row is dead weight either way.
		if _, err := s.tokens.DeleteByID(ctx, row[modelspec.FieldID]); err != nil {
			s.logger.Warn("failed to drop expired refresh token", zap.Error(err))
		}
		return nil, apperrors.Unauthenticated("refresh token expired")
	}

	user, err := s.users.FindOne(ctx, storage.QueryOptions{
		Filters: map[string]storage.Predicate{modelspec.FieldID: storage.Eq(row[fieldUserID])},
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.Unauthenticated("invalid refresh token")
	}

	// Rotation: the presented token dies before its successor is born, so a
	// replayed token can never coexist with the new one.
	if _, err := s.tokens.DeleteByID(ctx, row[modelspec.FieldID]); err != nil {
		return nil, err
	}
	return s.issuePair(ctx, user)
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	digest := crypto.DigestToken(refreshToken)
	_, err := s.tokens.DeleteMany(ctx, storage.QueryOptions{
		Filters: map[string]storage.Predicate{fieldTokenDigest: storage.Eq(digest)},
	})
	return err
}

// Refresh token row fields, matching the refreshTokens model.
const (
	fieldTokenDigest = "token"
	fieldUserID      = "userId"
	fieldExpiresAt   = "expiresAt"
)

func (s *authService) findTokenRow(ctx context.Context, refreshToken string) (storage.Entity, error) {
	if refreshToken == "" {
		return nil, apperrors.Unauthenticated("invalid refresh token")
	}
	digest := crypto.DigestToken(refreshToken)
	row, err := s.tokens.FindOne(ctx, storage.QueryOptions{
		Filters: map[string]storage.Predicate{fieldTokenDigest: storage.Eq(digest)},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperrors.Unauthenticated("invalid refresh token")
	}
	return row, nil
}

// issuePair signs an access JWT and persists a new refresh token digest. The
// user row arrives in native form straight from the store.
func (s *authService) issuePair(ctx context.Context, user storage.Entity) (*TokenPair, error) {
	now := s.clock().UTC()
	expiresAt := now.Add(s.accessTTL)

	uid, ok := s.users.IDSchema().Format(user[modelspec.FieldID])
	if !ok {
		return nil, apperrors.Internal(errors.New("user row has no usable id"))
	}
	email, _ := user["email"].(string)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email: email,
	}
	if org, ok := s.users.IDSchema().Format(user[modelspec.FieldOrgID]); ok {
		claims.Org = org
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	// The client keeps the secret; only its digest is persisted.
	refreshSecret := uuid.NewString()
	_, err = s.tokens.Create(ctx, storage.Entity{
		fieldTokenDigest: crypto.DigestToken(refreshSecret),
		fieldUserID:      user[modelspec.FieldID],
		fieldExpiresAt:   now.Add(s.refreshTTL),
	})
	if err != nil {
		return nil, err
	}

	spec := s.users.Spec()
	wireUser := spec.Project(modelspec.Encode(spec, user, s.users.IDSchema()))

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshSecret,
		ExpiresAt:    expiresAt,
		User:         wireUser,
	}, nil
}

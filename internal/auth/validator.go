package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zaliubovskiy/chatrelay/internal/config"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/internal/repository"
)

// ErrInvalidToken is returned for any token that does not resolve to a
// known identity, whatever the underlying reason.
var ErrInvalidToken = errors.New("invalid token")

// Validator resolves a presented token to a participant identity.
// Token issuance happens outside this service.
type Validator interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// New builds the validator selected by config.
func New(cfg config.AuthConfig, users repository.UserRepository) (Validator, error) {
	switch cfg.Mode {
	case "token":
		return NewTokenValidator(users), nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth.jwt_secret is required in jwt mode")
		}
		return NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer, users), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// TokenValidator resolves opaque keys against the auth_tokens table.
type TokenValidator struct {
	users repository.UserRepository
}

// NewTokenValidator creates a database-backed token validator.
func NewTokenValidator(users repository.UserRepository) *TokenValidator {
	return &TokenValidator{users: users}
}

// Resolve looks up the token key and returns its user.
func (v *TokenValidator) Resolve(ctx context.Context, token string) (*domain.User, error) {
	user, err := v.users.ResolveToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Claims are the JWT claims accepted in jwt mode.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// JWTValidator resolves signed HS256 tokens issued by an external auth
// service sharing the secret. The subject must still exist in the user
// store.
type JWTValidator struct {
	secret []byte
	issuer string
	users  repository.UserRepository
}

// NewJWTValidator creates a JWT validator.
func NewJWTValidator(secret, issuer string, users repository.UserRepository) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer, users: users}
}

// Resolve validates the token signature and claims, then resolves the
// user id against the user store.
func (v *JWTValidator) Resolve(ctx context.Context, token string) (*domain.User, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrInvalidToken
	}

	user, err := v.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

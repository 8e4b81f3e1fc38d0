// Package auth provides bearer credential validation for the fan-out layer
// and the HTTP surface.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/colloquy/colloquy/internal/common/config"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
)

// Identity is the result of validating a credential.
type Identity struct {
	UserID        string
	SecurityLevel int
}

// TokenValidator validates a bearer credential and resolves the identity
// behind it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// Claims is the JWT payload Colloquy issues and accepts.
type Claims struct {
	UserID        string `json:"user_id"`
	SecurityLevel int    `json:"security_level,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed tokens.
type JWTValidator struct {
	secret        []byte
	tokenDuration time.Duration
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewJWTValidator creates a validator from the auth configuration.
func NewJWTValidator(cfg config.AuthConfig) *JWTValidator {
	return &JWTValidator{
		secret:        []byte(cfg.JWTSecret),
		tokenDuration: cfg.TokenDurationTime(),
	}
}

// Validate parses and verifies a token, returning the identity it carries.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperrors.AuthFailure("missing credential")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.AuthFailure("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperrors.AuthFailure("invalid credential")
	}
	if claims.UserID == "" {
		return nil, apperrors.AuthFailure("credential carries no identity")
	}
	return &Identity{
		UserID:        claims.UserID,
		SecurityLevel: claims.SecurityLevel,
	}, nil
}

// Issue signs a token for a user. Used by tests and the development CLI.
func (v *JWTValidator) Issue(userID string, securityLevel int) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:        userID,
		SecurityLevel: securityLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenDuration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// StaticValidator accepts a fixed token-to-identity mapping. Development and
// test use only.
type StaticValidator struct {
	tokens map[string]Identity
}

var _ TokenValidator = (*StaticValidator)(nil)

// NewStaticValidator creates a validator over a fixed token table.
func NewStaticValidator(tokens map[string]Identity) *StaticValidator {
	return &StaticValidator{tokens: tokens}
}

// Validate looks the token up in the fixed table.
func (v *StaticValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	identity, ok := v.tokens[token]
	if !ok {
		return nil, apperrors.AuthFailure("invalid credential")
	}
	return &identity, nil
}

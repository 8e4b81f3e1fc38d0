package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colloquy/colloquy/internal/common/config"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
)

func TestJWTValidatorRoundTrip(t *testing.T) {
	v := NewJWTValidator(config.AuthConfig{JWTSecret: "test-secret", TokenDuration: 3600})

	token, err := v.Issue("user-42", 2)
	require.NoError(t, err)

	identity, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity.UserID)
	assert.Equal(t, 2, identity.SecurityLevel)
}

func TestJWTValidatorRejectsBadTokens(t *testing.T) {
	v := NewJWTValidator(config.AuthConfig{JWTSecret: "test-secret", TokenDuration: 3600})

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := v.Validate(context.Background(), token)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthFailure))
	}
}

func TestJWTValidatorRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTValidator(config.AuthConfig{JWTSecret: "secret-a", TokenDuration: 3600})
	verifier := NewJWTValidator(config.AuthConfig{JWTSecret: "secret-b", TokenDuration: 3600})

	token, err := issuer.Issue("user-1", 1)
	require.NoError(t, err)

	_, err = verifier.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthFailure))
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	issuer := NewJWTValidator(config.AuthConfig{JWTSecret: "test-secret", TokenDuration: -60})

	token, err := issuer.Issue("user-1", 1)
	require.NoError(t, err)

	_, err = issuer.Validate(context.Background(), token)
	require.Error(t, err)
}

func TestStaticValidator(t *testing.T) {
	v := NewStaticValidator(map[string]Identity{
		"dev-token": {UserID: "dev-user", SecurityLevel: 1},
	})

	identity, err := v.Validate(context.Background(), "dev-token")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", identity.UserID)

	_, err = v.Validate(context.Background(), "other")
	require.Error(t, err)
}

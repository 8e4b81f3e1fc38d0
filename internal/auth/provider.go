package auth

import (
	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
)

// Provide builds the configured token validator. Without a JWT secret the
// static development validator is used, accepting only "dev-token".
func Provide(cfg *config.Config, log *logger.Logger) TokenValidator {
	if cfg.Auth.JWTSecret != "" {
		return NewJWTValidator(cfg.Auth)
	}

	log.Warn("No JWT secret configured, using the development token validator")
	return NewStaticValidator(map[string]Identity{
		"dev-token": {UserID: "dev-user", SecurityLevel: 1},
	})
}

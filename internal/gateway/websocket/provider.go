package websocket

import (
	"github.com/colloquy/colloquy/internal/auth"
	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/session"
)

// Provide creates the socket gateway.
func Provide(service DiscussionService, validator auth.TokenValidator, store session.Store, cfg config.WebSocketConfig, log *logger.Logger) (*Gateway, error) {
	gateway := NewGateway(service, validator, store, cfg, log)
	return gateway, nil
}

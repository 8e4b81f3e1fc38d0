package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/colloquy/colloquy/internal/auth"
	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/session"
	"github.com/colloquy/colloquy/pkg/wsproto"
)

// Gateway bundles the fan-out layer components.
type Gateway struct {
	Hub     *Hub
	Router  *wsproto.Dispatcher
	Handler *Handler
	logger  *logger.Logger
}

// NewGateway creates the gateway with all components initialized.
func NewGateway(service DiscussionService, validator auth.TokenValidator, store session.Store, cfg config.WebSocketConfig, log *logger.Logger) *Gateway {
	router := NewFrameRouter(service)
	hub := NewHub(cfg, store, router, log)
	handler := NewHandler(hub, service, validator, store, cfg, log)

	return &Gateway{
		Hub:     hub,
		Router:  router,
		Handler: handler,
		logger:  log,
	}
}

// SetupRoutes adds the socket routes to the Gin engine.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/discussions/:id/ws", g.Handler.HandleConnection)
}

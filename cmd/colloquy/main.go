// Package main is the entry point for Colloquy. A single binary runs the
// discussion orchestrator, the HTTP API and the WebSocket fan-out layer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/colloquy/colloquy/internal/auth"
	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/httpmw"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/common/tracing"
	"github.com/colloquy/colloquy/internal/discussion/api"
	"github.com/colloquy/colloquy/internal/discussion/orchestrator"
	"github.com/colloquy/colloquy/internal/discussion/repository"
	"github.com/colloquy/colloquy/internal/discussion/strategy"
	"github.com/colloquy/colloquy/internal/events"
	gateway "github.com/colloquy/colloquy/internal/gateway/websocket"
	"github.com/colloquy/colloquy/internal/session"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Colloquy...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus
	provided, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect event bus", zap.Error(err))
	}
	defer func() {
		if err := closeBus(); err != nil {
			log.Error("Failed to close event bus", zap.Error(err))
		}
	}()
	eventBus := provided.Bus

	// 5. Open the discussion repository
	repo, closeRepo, err := repository.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to open discussion repository", zap.Error(err))
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Error("Failed to close repository", zap.Error(err))
		}
	}()

	// 6. Open the session store
	sessions, err := session.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to open session store", zap.Error(err))
	}
	defer sessions.Close()

	// 7. Token validation
	validator := auth.Provide(cfg, log)

	// 8. Strategy engine and orchestrator
	engine := strategy.NewEngine(log)
	orch := orchestrator.New(repo, engine, eventBus, cfg, log)
	if err := orch.Start(ctx); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}
	defer orch.Shutdown()

	// 9. WebSocket fan-out gateway
	gw, err := gateway.Provide(orch, validator, sessions, cfg.WebSocket, log)
	if err != nil {
		log.Fatal("Failed to initialize gateway", zap.Error(err))
	}
	orch.SetBroadcaster(gw.Hub)

	// 10. HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "colloquy"))
	router.Use(httpmw.OtelTracing("colloquy"))

	api.SetupRoutes(router.Group("/api/v1"), orch, validator, log)
	gw.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"service":       "colloquy",
			"bus_connected": eventBus.IsConnected(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Run until a shutdown signal arrives
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gw.Hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("Shutting down Colloquy...")
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", zap.Error(err))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("Tracer shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
	log.Info("Colloquy stopped")
}

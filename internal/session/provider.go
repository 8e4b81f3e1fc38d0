package session

import (
	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
)

// Provide builds the configured session store implementation.
// An empty Redis address selects the in-memory store.
func Provide(cfg *config.Config, log *logger.Logger) (Store, error) {
	if cfg.Redis.Addr != "" {
		store, err := NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("Using Redis session store", zap.String("addr", cfg.Redis.Addr))
		return store, nil
	}

	log.Info("Using in-memory session store")
	return NewMemoryStore(), nil
}

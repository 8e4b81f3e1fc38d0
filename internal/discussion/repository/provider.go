package repository

import (
	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
)

// Provide builds the configured repository implementation.
// An empty database path selects the in-memory repository.
func Provide(cfg *config.Config, log *logger.Logger) (Repository, func() error, error) {
	if cfg.Database.Path != "" {
		repo, err := NewSQLiteRepository(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using SQLite discussion repository", zap.String("path", cfg.Database.Path))
		return repo, repo.Close, nil
	}

	log.Info("Using in-memory discussion repository")
	repo := NewMemoryRepository()
	return repo, repo.Close, nil
}

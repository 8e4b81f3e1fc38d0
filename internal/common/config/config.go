// Package config provides configuration management for Colloquy.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Colloquy.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Discussion DiscussionConfig `mapstructure:"discussion"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds discussion store configuration.
// An empty path selects the in-memory repository.
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite database file path
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// RedisConfig holds session store configuration.
// An empty address selects the in-memory session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds credential validation configuration.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DiscussionConfig holds discussion orchestration defaults.
type DiscussionConfig struct {
	DefaultTurnTimeout  int `mapstructure:"defaultTurnTimeout"`  // in seconds
	MaxParticipants     int `mapstructure:"maxParticipants"`     // default participant cap
	CommandTimeout      int `mapstructure:"commandTimeout"`      // bus request/response timeout, in seconds
	TimerRetryBackoffMS int `mapstructure:"timerRetryBackoffMs"` // backoff before retrying a system advance
}

// WebSocketConfig holds fan-out layer limits.
type WebSocketConfig struct {
	MessagesPerMinute     int `mapstructure:"messagesPerMinute"`     // per-connection inbound frame cap
	MaxMessageSize        int `mapstructure:"maxMessageSize"`        // per-frame size cap in bytes
	MaxConnectionsPerUser int `mapstructure:"maxConnectionsPerUser"` // cross-process cap via session store
	HeartbeatInterval     int `mapstructure:"heartbeatInterval"`     // in seconds
	StaleAfter            int `mapstructure:"staleAfter"`            // in seconds
	SessionTTLFactor      int `mapstructure:"sessionTTLFactor"`      // session TTL = heartbeat * factor
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// DefaultTurnTimeoutDuration returns the default turn timeout as a time.Duration.
func (d *DiscussionConfig) DefaultTurnTimeoutDuration() time.Duration {
	return time.Duration(d.DefaultTurnTimeout) * time.Second
}

// CommandTimeoutDuration returns the bus command timeout as a time.Duration.
func (d *DiscussionConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(d.CommandTimeout) * time.Second
}

// HeartbeatIntervalDuration returns the heartbeat interval as a time.Duration.
func (w *WebSocketConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}

// StaleAfterDuration returns the stale threshold as a time.Duration.
func (w *WebSocketConfig) StaleAfterDuration() time.Duration {
	return time.Duration(w.StaleAfter) * time.Second
}

// SessionTTL returns the session store TTL derived from the heartbeat window.
func (w *WebSocketConfig) SessionTTL() time.Duration {
	return w.HeartbeatIntervalDuration() * time.Duration(w.SessionTTLFactor)
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("COLLOQUY_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty path means use in-memory repository
	v.SetDefault("database.path", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "colloquy-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Redis defaults - empty addr means use in-memory session store
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600) // 1 hour

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Discussion defaults
	v.SetDefault("discussion.defaultTurnTimeout", 300)
	v.SetDefault("discussion.maxParticipants", 10)
	v.SetDefault("discussion.commandTimeout", 5)
	v.SetDefault("discussion.timerRetryBackoffMs", 250)

	// WebSocket defaults
	v.SetDefault("websocket.messagesPerMinute", 60)
	v.SetDefault("websocket.maxMessageSize", 32*1024)
	v.SetDefault("websocket.maxConnectionsPerUser", 5)
	v.SetDefault("websocket.heartbeatInterval", 30)
	v.SetDefault("websocket.staleAfter", 60)
	v.SetDefault("websocket.sessionTTLFactor", 3)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix COLLOQUY_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/colloquy/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("COLLOQUY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("database.path", "COLLOQUY_DB_PATH")
	_ = v.BindEnv("auth.jwtSecret", "COLLOQUY_AUTH_JWT_SECRET")
	_ = v.BindEnv("websocket.maxConnectionsPerUser", "COLLOQUY_WS_MAX_CONNECTIONS_PER_USER")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/colloquy/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Auth validation - generate random secret if not set (dev mode)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Discussion.DefaultTurnTimeout < 10 || cfg.Discussion.DefaultTurnTimeout > 3600 {
		errs = append(errs, "discussion.defaultTurnTimeout must be between 10 and 3600 seconds")
	}
	if cfg.Discussion.MaxParticipants < 2 {
		errs = append(errs, "discussion.maxParticipants must be at least 2")
	}
	if cfg.Discussion.CommandTimeout <= 0 {
		errs = append(errs, "discussion.commandTimeout must be positive")
	}

	if cfg.WebSocket.MessagesPerMinute <= 0 {
		errs = append(errs, "websocket.messagesPerMinute must be positive")
	}
	if cfg.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.maxMessageSize must be positive")
	}
	if cfg.WebSocket.MaxConnectionsPerUser <= 0 {
		errs = append(errs, "websocket.maxConnectionsPerUser must be positive")
	}
	if cfg.WebSocket.SessionTTLFactor < 1 {
		errs = append(errs, "websocket.sessionTTLFactor must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	// In production, users should set COLLOQUY_AUTH_JWT_SECRET
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}

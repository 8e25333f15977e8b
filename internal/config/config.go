// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings for the sync client process.
type Config struct {
	HTTPAddr     string `env:"PELUSA_HTTP_ADDR" envDefault:"127.0.0.1:3000"`
	BackendURL   string `env:"PELUSA_BACKEND_URL" envDefault:"http://127.0.0.1:4000"`
	TransportURL string `env:"PELUSA_TRANSPORT_URL" envDefault:"ws://127.0.0.1:4000/api/ws"`
	UserID       string `env:"PELUSA_USER_ID" envDefault:"local"`

	DBPath string `env:"PELUSA_DB_PATH" envDefault:"pelusa-sync.db"`

	BusDriver    string `env:"PELUSA_BUS_DRIVER" envDefault:"memory"`
	RedisAddr    string `env:"PELUSA_REDIS_ADDR"`
	RedisChannel string `env:"PELUSA_REDIS_CHANNEL" envDefault:"pelusa-events"`

	LogMode string `env:"PELUSA_LOG_MODE" envDefault:"dev"`

	PageSize     int           `env:"PELUSA_PAGE_SIZE" envDefault:"50"`
	CachedChats  int           `env:"PELUSA_CACHED_CHATS" envDefault:"64"`
	TypingWindow time.Duration `env:"PELUSA_TYPING_WINDOW" envDefault:"5s"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

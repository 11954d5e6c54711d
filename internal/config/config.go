// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	// DatabaseURL is a sqlite path by default; a postgres:// URL
	// switches dialects.
	DatabaseURL string `env:"BAZAAR_DB" envDefault:"data/bazaar.db"`

	// Port for the HTTP API.
	Port int `env:"BAZAAR_PORT" envDefault:"8080"`

	// TickInterval is the world clock period.
	TickInterval time.Duration `env:"BAZAAR_TICK_INTERVAL" envDefault:"5m"`

	// CatalogPath seeds the commodity table on first boot.
	CatalogPath string `env:"BAZAAR_CATALOG" envDefault:"configs/commodities.yaml"`

	// AdminKey gates the admin endpoints; empty disables them.
	AdminKey string `env:"BAZAAR_ADMIN_KEY"`

	// AnthropicKey enables the text oracle; empty degrades to fallbacks.
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`

	// RandomOrgKey enables true randomness; empty uses crypto/rand.
	RandomOrgKey string `env:"RANDOM_ORG_KEY"`

	// SentimentSeed fixes the chronicle's omen field.
	SentimentSeed int64 `env:"BAZAAR_SENTIMENT_SEED" envDefault:"42"`

	// ActionCooldown is the minimum spacing between actions per agent.
	ActionCooldown time.Duration `env:"BAZAAR_ACTION_COOLDOWN" envDefault:"2s"`
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick interval must be positive")
	}
	return cfg, nil
}

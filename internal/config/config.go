// Package config provides configuration for the chat service.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration, loaded from environment variables.
type Config struct {
	// Server settings
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:chatd.db?cache=shared&mode=rwc"`

	// Ollama backend
	OllamaURL    string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	DefaultModel string `env:"OLLAMA_DEFAULT_MODEL" envDefault:"llama3.2"`

	// Timeouts. Streaming generations may run for minutes; everything else
	// stays short.
	StreamTimeout  time.Duration `env:"OLLAMA_STREAM_TIMEOUT" envDefault:"5m"`
	RequestTimeout time.Duration `env:"OLLAMA_REQUEST_TIMEOUT" envDefault:"30s"`
	TitleTimeout   time.Duration `env:"OLLAMA_TITLE_TIMEOUT" envDefault:"10s"`
	HealthTimeout  time.Duration `env:"OLLAMA_HEALTH_TIMEOUT" envDefault:"5s"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

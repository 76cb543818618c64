// Package config loads runtime settings from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Host   string `env:"KBJU_HOST" env-default:"0.0.0.0"`
	Port   int    `env:"KBJU_PORT" env-default:"8080"`
	DBPath string `env:"KBJU_DB_PATH" env-default:"./kbju-tracker.db"`

	LLM LLMConfig
}

type LLMConfig struct {
	APIURL     string        `env:"OPENROUTER_API_URL" env-default:"https://openrouter.ai/api/v1/chat/completions"`
	APIKey     string        `env:"OPENROUTER_API_KEY"`
	Model      string        `env:"OPENROUTER_MODEL" env-default:"openai/gpt-4o-mini"`
	MaxRetries int           `env:"OPENROUTER_MAX_RETRIES" env-default:"3"`
	RetryDelay time.Duration `env:"OPENROUTER_RETRY_DELAY" env-default:"1s"`
	Timeout    time.Duration `env:"OPENROUTER_TIMEOUT" env-default:"60s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	if c.LLM.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

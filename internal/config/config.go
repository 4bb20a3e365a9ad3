package config

import "github.com/caarlos0/env/v10"

// Config centralizes the service configuration.
type Config struct {
	HTTPPort   string `env:"HTTP_PORT" envDefault:"8000"`
	ChatDBPath string `env:"CHAT_DB_PATH" envDefault:"chat_history.db"`

	// Confidence thresholds for the query router; 0 <= medium <= high <= 1.
	HighConfidenceThreshold   float64 `env:"HIGH_CONFIDENCE_THRESHOLD" envDefault:"0.8"`
	MediumConfidenceThreshold float64 `env:"MEDIUM_CONFIDENCE_THRESHOLD" envDefault:"0.5"`

	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMBaseURL string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	// Base URL of the external matching/retrieval engine. When empty the
	// matcher is disabled and every query takes the LLM fallback path.
	MatcherBaseURL string `env:"MATCHER_BASE_URL"`

	// Optional JSON file mapping condition ids to display names.
	ConditionsPath string `env:"CONDITIONS_PATH"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	QueryRateWindowSeconds int `env:"QUERY_RATE_WINDOW_SECONDS" envDefault:"60"`
	QueryRateMax           int `env:"QUERY_RATE_MAX" envDefault:"30"`
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

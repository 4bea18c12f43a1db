package openai

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds OpenAI-compatible backend configuration.
type Config struct {
	APIKey      string   // API key, injected into the HTTP auth header
	BaseURL     string   // endpoint base URL (default: https://api.openai.com/v1)
	Model       string   // model name (default: gpt-4o)
	Temperature *float32 // nil = API default
	HTTPTimeout int      // seconds; transport-level timeout below the Chat wall clock
}

// NewConfigFromEnv creates a Config from environment variables.
// LLM_API_KEY is the primary credential var; API_KEY is accepted as an alias.
func NewConfigFromEnv() (*Config, error) {
	key := os.Getenv("LLM_API_KEY")
	if key == "" {
		key = os.Getenv("API_KEY")
	}
	cfg := &Config{
		APIKey:      key,
		BaseURL:     getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		Model:       getEnvOrDefault("LLM_MODEL", "gpt-4o"),
		Temperature: getEnvFloat32Ptr("LLM_TEMPERATURE"),
		HTTPTimeout: getEnvIntOrDefault("LLM_HTTP_TIMEOUT", 300),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required; set it in .env or the environment")
	}
	if c.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Temperature != nil && (*c.Temperature < 0.0 || *c.Temperature > 2.0) {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0.0 and 2.0, got %f", *c.Temperature)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("LLM_HTTP_TIMEOUT must be positive, got %d", c.HTTPTimeout)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvFloat32Ptr(key string) *float32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			f := float32(parsed)
			return &f
		}
	}
	return nil
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

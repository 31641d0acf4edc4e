package config

import (
	"os"
	"strings"
)

type Config struct {
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	DefaultModel      string
	AllowedOrigins    []string
	Port              string
}

func NewConfig() *Config {
	cfg := &Config{
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: os.Getenv("OPENROUTER_BASE_URL"),
		DefaultModel:      os.Getenv("OPENROUTER_MODEL"),
		Port:              os.Getenv("PORT"),
	}

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4"
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173" // Default to your local frontend
	}
	cfg.AllowedOrigins = strings.Split(allowedOrigins, ",")

	return cfg
}

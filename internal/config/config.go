// Package config provides configuration for the orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Completion service
	LLMProvider     string // openai | anthropic | mock
	CompletionModel string

	// Collaborating services
	SearchURL string
	ChartsURL string

	// Execution limits
	StepBudget  int
	StepTimeout time.Duration
	RunTimeout  time.Duration

	// Read-model tuning
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnv("DATABASE_URL", "file:orchestrator.db?cache=shared&mode=rwc"),
		LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
		CompletionModel:   getEnv("COMPLETION_MODEL", ""),
		SearchURL:         getEnv("SEARCH_URL", "http://localhost:8091"),
		ChartsURL:         getEnv("CHARTS_URL", "http://localhost:8092"),
		StepBudget:        getEnvInt("STEP_BUDGET", 20),
		StepTimeout:       time.Duration(getEnvInt("STEP_TIMEOUT_MS", 60000)) * time.Millisecond,
		RunTimeout:        time.Duration(getEnvInt("RUN_TIMEOUT_MS", 600000)) * time.Millisecond,
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL_MS", 100)) * time.Millisecond,
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_MS", 1500)) * time.Millisecond,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// Package config provides configuration for the orchestration service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Chat run policies for a second message on a busy chat.
const (
	ChatRunQueue  = "queue"
	ChatRunReject = "reject"
)

// Memory backends.
const (
	MemoryLocal = "local"
	MemoryRedis = "redis"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort        int
	ShutdownTimeout time.Duration

	// WebSocket
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	WSMaxMessageSize int64

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// LLM
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration
	Mode       string

	// Pipeline
	ToolTimeout         time.Duration
	MaxConcurrency      int
	EventBuffer         int
	ConfidenceThreshold float64
	HistoryLimit        int
	ChatRunPolicy       string
	CatalogPath         string
	PolicyPath          string

	// Memory
	MemoryBackend  string
	MemoryRecallK  int
	MemoryMaxTurns int
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Tools
	SearchAPIURL string
	SearchAPIKey string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		ShutdownTimeout:     time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_MS", 10000)) * time.Millisecond,
		WSPingInterval:      time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSWriteTimeout:      time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		WSReadTimeout:       time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WSMaxMessageSize:    int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		DatabaseDriver:      getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:         getEnv("DATABASE_URL", "file:dipagt.db?cache=shared&mode=rwc"),
		LLMBaseURL:          getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:           getEnv("LLM_API_KEY", ""),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o"),
		LLMTimeout:          time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		Mode:                getEnv("DIPAGT_MODE", ""),
		ToolTimeout:         time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxConcurrency:      getEnvInt("MAX_CONCURRENCY", 4),
		EventBuffer:         getEnvInt("EVENT_BUFFER", 64),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 5),
		ChatRunPolicy:       strings.ToLower(getEnv("CHAT_RUN_POLICY", ChatRunQueue)),
		CatalogPath:         getEnv("CATALOG_PATH", "catalog.yaml"),
		PolicyPath:          getEnv("POLICY_PATH", ""),
		MemoryBackend:       strings.ToLower(getEnv("MEMORY_BACKEND", MemoryLocal)),
		MemoryRecallK:       getEnvInt("MEMORY_RECALL_K", 10),
		MemoryMaxTurns:      getEnvInt("MEMORY_MAX_TURNS", 200),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		SearchAPIURL:        getEnv("SEARCH_API_URL", "https://api.tavily.com/search"),
		SearchAPIKey:        getEnv("SEARCH_API_KEY", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	switch c.DatabaseDriver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be at least 1, got %d", c.EventBuffer)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT_MS must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	switch c.ChatRunPolicy {
	case ChatRunQueue, ChatRunReject:
	default:
		return fmt.Errorf("unsupported CHAT_RUN_POLICY %q", c.ChatRunPolicy)
	}
	switch c.MemoryBackend {
	case MemoryLocal, MemoryRedis:
	default:
		return fmt.Errorf("unsupported MEMORY_BACKEND %q", c.MemoryBackend)
	}
	if c.WSReadTimeout <= c.WSPingInterval {
		return fmt.Errorf("WS_READ_TIMEOUT_MS must exceed WS_PING_INTERVAL_MS")
	}
	if c.MemoryRecallK < 1 {
		return fmt.Errorf("MEMORY_RECALL_K must be at least 1, got %d", c.MemoryRecallK)
	}
	return nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	// CatalogPath overrides the embedded phase catalog when set.
	CatalogPath     string
	Session         SessionConfig
	Coach           CoachConfig
	LLM             LLMConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// SessionConfig controls the session cache and background sweeper.
type SessionConfig struct {
	CacheSize     int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// Retention deletes persisted sessions idle for longer. Zero keeps them forever.
	Retention time.Duration
}

// CoachConfig tunes the orchestrator.
type CoachConfig struct {
	FactWindow        int
	ContextWindow     int
	HistoryWindow     int
	ExtractionWindow  int
	GenerationTimeout time.Duration
	ExtractionTimeout time.Duration
	AutoAdvance       bool
}

// LLMConfig selects and tunes the generator backend.
type LLMConfig struct {
	Provider              string // "openai" or "grpc"
	APIKey                string
	BaseURL               string
	GrpcAddr              string
	ReplyModel            string
	ReplyTemperature      float64
	ReplyMaxTokens        int
	ExtractionModel       string
	ExtractionTemperature float64
	ExtractionMaxTokens   int
	RequestsPerSecond     float64
	Burst                 int
	MaxAttempts           int
}

// RateLimitConfig bounds inbound chat turns per session.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/coach.db"),
		CatalogPath: getEnv("CATALOG_PATH", ""),
		Session: SessionConfig{
			CacheSize:     getEnvInt("SESSION_CACHE_SIZE", 1024),
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			Retention:     getEnvDuration("SESSION_RETENTION", 0),
		},
		Coach: CoachConfig{
			FactWindow:        getEnvInt("FACT_WINDOW", 6),
			ContextWindow:     getEnvInt("CONTEXT_WINDOW", 8),
			HistoryWindow:     getEnvInt("HISTORY_WINDOW", 10),
			ExtractionWindow:  getEnvInt("EXTRACTION_WINDOW", 15),
			GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
			ExtractionTimeout: getEnvDuration("EXTRACTION_TIMEOUT", 90*time.Second),
			AutoAdvance:       getEnvBool("AUTO_ADVANCE", false),
		},
		LLM: LLMConfig{
			Provider:              strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			APIKey:                firstEnv("LLM_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"),
			BaseURL:               getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			GrpcAddr:              getEnv("GENERATOR_GRPC_ADDR", "localhost:50051"),
			ReplyModel:            getEnv("LLM_REPLY_MODEL", "llama-3.3-70b-versatile"),
			ReplyTemperature:      getEnvFloat("LLM_REPLY_TEMPERATURE", 0.7),
			ReplyMaxTokens:        getEnvInt("LLM_REPLY_MAX_TOKENS", 500),
			ExtractionModel:       getEnv("LLM_EXTRACTION_MODEL", "llama-3.3-70b-versatile"),
			ExtractionTemperature: getEnvFloat("LLM_EXTRACTION_TEMPERATURE", 0.3),
			ExtractionMaxTokens:   getEnvInt("LLM_EXTRACTION_MAX_TOKENS", 1500),
			RequestsPerSecond:     getEnvFloat("LLM_REQUESTS_PER_SECOND", 2),
			Burst:                 getEnvInt("LLM_BURST", 4),
			MaxAttempts:           getEnvInt("LLM_MAX_ATTEMPTS", 3),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("CHAT_RATE_LIMIT", 20),
			Window:   getEnvDuration("CHAT_RATE_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Session.CacheSize <= 0 {
		return errors.New("SESSION_CACHE_SIZE must be > 0")
	}
	if c.Session.IdleTTL < 0 || c.Session.Retention < 0 {
		return errors.New("SESSION_IDLE_TTL and SESSION_RETENTION cannot be negative")
	}
	if c.Coach.FactWindow <= 0 || c.Coach.ContextWindow <= 0 ||
		c.Coach.HistoryWindow <= 0 || c.Coach.ExtractionWindow <= 0 {
		return errors.New("message windows must be > 0")
	}
	if c.Coach.GenerationTimeout <= 0 || c.Coach.ExtractionTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT and EXTRACTION_TIMEOUT must be > 0")
	}
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return errors.New("LLM_API_KEY (or GROQ_API_KEY) is required for the openai provider")
		}
	case "grpc":
		if c.LLM.GrpcAddr == "" {
			return errors.New("GENERATOR_GRPC_ADDR is required for the grpc provider")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.MaxAttempts <= 0 {
		return errors.New("LLM_MAX_ATTEMPTS must be > 0")
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.Window <= 0 {
		return errors.New("CHAT_RATE_LIMIT must be >= 0 and CHAT_RATE_WINDOW > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "gsk-test", cfg.LLM.APIKey)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.ReplyModel)
	assert.InDelta(t, 0.7, cfg.LLM.ReplyTemperature, 1e-9)
	assert.InDelta(t, 0.3, cfg.LLM.ExtractionTemperature, 1e-9)
	assert.Equal(t, 6, cfg.Coach.FactWindow)
	assert.Equal(t, 8, cfg.Coach.ContextWindow)
	assert.Equal(t, 15, cfg.Coach.ExtractionWindow)
	assert.Equal(t, 60*time.Second, cfg.Coach.GenerationTimeout)
	assert.False(t, cfg.Coach.AutoAdvance)
	assert.Zero(t, cfg.Session.Retention)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "GRPC")
	t.Setenv("GENERATOR_GRPC_ADDR", "gen:9000")
	t.Setenv("FACT_WINDOW", "4")
	t.Setenv("GENERATION_TIMEOUT", "15")
	t.Setenv("EXTRACTION_TIMEOUT", "2m")
	t.Setenv("AUTO_ADVANCE", "yes")
	t.Setenv("SESSION_RETENTION", "720h")
	t.Setenv("LLM_REPLY_TEMPERATURE", "0.2")
	t.Setenv("FRONTEND_URL", "https://coach.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "grpc", cfg.LLM.Provider)
	assert.Equal(t, "gen:9000", cfg.LLM.GrpcAddr)
	assert.Equal(t, 4, cfg.Coach.FactWindow)
	assert.Equal(t, 15*time.Second, cfg.Coach.GenerationTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Coach.ExtractionTimeout)
	assert.True(t, cfg.Coach.AutoAdvance)
	assert.Equal(t, 720*time.Hour, cfg.Session.Retention)
	assert.InDelta(t, 0.2, cfg.LLM.ReplyTemperature, 1e-9)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:    "8080",
			DBPath:  "coach.db",
			Session: SessionConfig{CacheSize: 10},
			Coach: CoachConfig{
				FactWindow: 6, ContextWindow: 8, HistoryWindow: 10, ExtractionWindow: 15,
				GenerationTimeout: time.Second, ExtractionTimeout: time.Second,
			},
			LLM:       LLMConfig{Provider: "openai", APIKey: "k", MaxAttempts: 1},
			RateLimit: RateLimitConfig{Requests: 1, Window: time.Second},
			ConversationLog: ConversationLogConfig{
				Dir: "logs", GlobalPath: "logs/all.ndjson", QueueSize: 1,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"zero cache", func(c *Config) { c.Session.CacheSize = 0 }},
		{"zero window", func(c *Config) { c.Coach.ContextWindow = 0 }},
		{"zero timeout", func(c *Config) { c.Coach.GenerationTimeout = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "smoke-signals" }},
		{"grpc without address", func(c *Config) { c.LLM.Provider = "grpc" }},
		{"negative retention", func(c *Config) { c.Session.Retention = -time.Second }},
		{"zero queue", func(c *Config) { c.ConversationLog.QueueSize = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "bogus")
	assert.Equal(t, time.Minute, getEnvDuration("X_DURATION", time.Minute))
	t.Setenv("X_DURATION", "45")
	assert.Equal(t, 45*time.Second, getEnvDuration("X_DURATION", time.Minute))
}

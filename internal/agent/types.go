// Package agent adapts language model backends to the coach generator ports.
package agent

import (
	"time"
)

// Provider names a generator backend.
type Provider string

const (
	// ProviderOpenAI talks to an OpenAI-compatible chat completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderGrpc talks to a remote generator service over gRPC.
	ProviderGrpc Provider = "grpc"
)

// Config holds generator configuration.
type Config struct {
	Provider Provider

	// OpenAI-compatible settings.
	APIKey  string
	BaseURL string

	// GrpcAddr is the remote generator address for ProviderGrpc.
	GrpcAddr string

	ReplyModel            string
	ReplyTemperature      float64
	ReplyMaxTokens        int64
	ExtractionModel       string
	ExtractionTemperature float64
	ExtractionMaxTokens   int64

	// RequestsPerSecond and Burst bound outbound generator calls.
	RequestsPerSecond float64
	Burst             int
	// MaxAttempts bounds retries of transient generator failures.
	MaxAttempts uint
	// RetryInitialInterval is the first backoff delay.
	RetryInitialInterval time.Duration
}

// DefaultConfig returns default generator configuration.
func DefaultConfig() Config {
	return Config{
		Provider:              ProviderOpenAI,
		BaseURL:               "https://api.groq.com/openai/v1",
		GrpcAddr:              "localhost:50051",
		ReplyModel:            "llama-3.3-70b-versatile",
		ReplyTemperature:      0.7,
		ReplyMaxTokens:        500,
		ExtractionModel:       "llama-3.3-70b-versatile",
		ExtractionTemperature: 0.3,
		ExtractionMaxTokens:   1500,
		RequestsPerSecond:     2,
		Burst:                 4,
		MaxAttempts:           3,
		RetryInitialInterval:  500 * time.Millisecond,
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/domain"
)

// Service is the generator used by the orchestrator: the configured backend
// behind rate limiting and retries.
type Service struct {
	generator Generator
	provider  Provider
}

// NewService builds the backend named by cfg.Provider.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		backend Generator
		err     error
	)
	switch cfg.Provider {
	case ProviderOpenAI, "":
		backend, err = NewOpenAIClient(cfg, logger)
	case ProviderGrpc:
		backend, err = NewGrpcClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	return NewServiceWithGenerator(NewResilient(backend, cfg, logger), provider), nil
}

// NewServiceWithGenerator creates a service around an existing generator.
func NewServiceWithGenerator(generator Generator, provider Provider) *Service {
	return &Service{generator: generator, provider: provider}
}

// Provider reports the configured backend.
func (s *Service) Provider() Provider { return s.provider }

// Generate implements coach.TextGenerator.
func (s *Service) Generate(ctx context.Context, instructions string, history []domain.Message) (coach.Reply, error) {
	return s.generator.Generate(ctx, instructions, history)
}

// GenerateStructured implements coach.StructuredGenerator.
func (s *Service) GenerateStructured(ctx context.Context, instructions string, schema []byte) (json.RawMessage, error) {
	return s.generator.GenerateStructured(ctx, instructions, schema)
}

// Close releases resources.
func (s *Service) Close() {
	if s.generator != nil {
		s.generator.Close()
	}
}

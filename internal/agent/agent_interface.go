package agent

import (
	"github.com/ashureev/coach-labs/internal/coach"
)

// Generator is a generator backend that produces both coach replies and
// structured phase records.
type Generator interface {
	coach.TextGenerator
	coach.StructuredGenerator

	// Close releases resources
	Close()
}

// Ensure backends implement Generator.
var (
	_ Generator = (*OpenAIClient)(nil)
	_ Generator = (*GrpcClient)(nil)
	_ Generator = (*Resilient)(nil)
	_ Generator = (*Service)(nil)
)

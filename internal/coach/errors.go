package coach

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
)

var (
	// ErrSessionNotFound is returned when an operation names an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrProgramComplete is returned for turns on a finalized session.
	ErrProgramComplete = errors.New("program already complete")
	// ErrIncompleteProgram matches IncompleteProgramError.
	ErrIncompleteProgram = errors.New("program has missing phase records")
	// ErrNothingToExtract is returned by RetryExtraction when the gate is
	// not satisfied or the record already exists.
	ErrNothingToExtract = errors.New("no pending extraction")
	// ErrEmptyMessage rejects blank user turns.
	ErrEmptyMessage = errors.New("message is empty")
)

// ConfigurationError is re-exported from the catalog so callers of this
// package can match it without importing catalog.
type ConfigurationError = catalog.ConfigurationError

// ErrConfiguration matches every ConfigurationError.
var ErrConfiguration = catalog.ErrConfiguration

// GenerationError wraps a failed or unparsable generator call.
type GenerationError struct {
	Op  string // "reply" or "extract"
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SchemaValidationError reports a structured result that does not match its
// record schema.
type SchemaValidationError struct {
	Kind       domain.PhaseKind
	Violations []string
	Err        error
}

func (e *SchemaValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s record failed validation: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s record failed validation: %s", e.Kind, strings.Join(e.Violations, "; "))
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed write to a store or sink.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IncompleteProgramError lists the records still missing when a program is
// finalized manually.
type IncompleteProgramError struct {
	Missing []domain.PhaseKind
}

func (e *IncompleteProgramError) Error() string {
	names := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		names[i] = string(k)
	}
	return "cannot complete program: missing " + strings.Join(names, ", ")
}

func (e *IncompleteProgramError) Is(target error) bool { return target == ErrIncompleteProgram }

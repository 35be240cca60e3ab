package catalog

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("catalog configuration error")

// ConfigurationError reports a missing or malformed phase or checkpoint.
// It always indicates a deployment bug, never a user error.
type ConfigurationError struct {
	Phase      int
	Checkpoint int
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	msg := "catalog"
	if e.Phase != 0 {
		msg += fmt.Sprintf(": phase %d", e.Phase)
	}
	if e.Checkpoint != 0 {
		msg += fmt.Sprintf(" checkpoint %d", e.Checkpoint)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is lets callers test errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

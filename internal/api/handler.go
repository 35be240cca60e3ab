// Package api provides HTTP and WebSocket handlers for the coach API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/coach-labs/internal/coach"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorBody is the payload written for a failed coach operation.
type ErrorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Missing    []string `json:"missing,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// classifyError maps an orchestrator error to an HTTP status and error body.
func classifyError(err error) (int, ErrorBody) {
	body := ErrorBody{Message: err.Error()}

	var (
		incomplete *coach.IncompleteProgramError
		schema     *coach.SchemaValidationError
		gen        *coach.GenerationError
		persist    *coach.PersistenceError
	)
	switch {
	case errors.Is(err, coach.ErrEmptyMessage):
		body.Error = "empty_message"
		return http.StatusBadRequest, body
	case errors.Is(err, coach.ErrSessionNotFound):
		body.Error = "session_not_found"
		return http.StatusNotFound, body
	case errors.Is(err, coach.ErrProgramComplete):
		body.Error = "program_complete"
		return http.StatusConflict, body
	case errors.As(err, &incomplete):
		body.Error = "incomplete_program"
		for _, k := range incomplete.Missing {
			body.Missing = append(body.Missing, string(k))
		}
		return http.StatusConflict, body
	case errors.Is(err, coach.ErrNothingToExtract):
		body.Error = "nothing_to_extract"
		return http.StatusConflict, body
	case errors.As(err, &schema):
		body.Error = "schema_validation_failed"
		body.Violations = schema.Violations
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &gen):
		if errors.Is(err, context.DeadlineExceeded) {
			body.Error = "generation_timeout"
			return http.StatusGatewayTimeout, body
		}
		body.Error = "generation_failed"
		return http.StatusBadGateway, body
	case errors.As(err, &persist):
		body.Error = "persistence_failed"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, coach.ErrConfiguration):
		body.Error = "configuration_error"
		return http.StatusInternalServerError, body
	}
	body.Error = "internal_error"
	return http.StatusInternalServerError, body
}

// writeCoachError writes err using classifyError.
func writeCoachError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)
	JSON(w, status, body)
}

// errString renders a non-blocking error for a response field.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

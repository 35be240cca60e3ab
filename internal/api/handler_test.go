//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty message", coach.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
		{"not found", fmt.Errorf("load: %w", coach.ErrSessionNotFound), http.StatusNotFound, "session_not_found"},
		{"program complete", coach.ErrProgramComplete, http.StatusConflict, "program_complete"},
		{"incomplete", &coach.IncompleteProgramError{Missing: []domain.PhaseKind{domain.KindGoals}}, http.StatusConflict, "incomplete_program"},
		{"nothing to extract", coach.ErrNothingToExtract, http.StatusConflict, "nothing_to_extract"},
		{"schema", &coach.SchemaValidationError{Kind: domain.KindGoals, Violations: []string{"goal: required"}}, http.StatusUnprocessableEntity, "schema_validation_failed"},
		{"generation", &coach.GenerationError{Op: "reply", Err: errors.New("503")}, http.StatusBadGateway, "generation_failed"},
		{"timeout", &coach.GenerationError{Op: "reply", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "generation_timeout"},
		{"persistence", &coach.PersistenceError{Op: "create_plan", Err: errors.New("locked")}, http.StatusServiceUnavailable, "persistence_failed"},
		{"configuration", &coach.ConfigurationError{Phase: 9, Reason: "unknown phase"}, http.StatusInternalServerError, "configuration_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := classifyError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}

	_, body := classifyError(&coach.IncompleteProgramError{Missing: []domain.PhaseKind{domain.KindGoals, domain.KindActionPlan}})
	assert.Equal(t, []string{string(domain.KindGoals), string(domain.KindActionPlan)}, body.Missing)
}

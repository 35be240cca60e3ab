package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ashureev/coach-labs/internal/coach"
)

var errNoJSONObject = errors.New("no JSON object in generator output")

// ParseReply decodes the reply envelope {"reply": ..., "checkpoint_complete": ...}.
// Output that is not an envelope is returned as plain reply text that does
// not complete the checkpoint.
func ParseReply(output string) (coach.Reply, bool) {
	body, err := extractObject(output)
	if err == nil {
		var env struct {
			Reply              *string `json:"reply"`
			CheckpointComplete bool    `json:"checkpoint_complete"`
		}
		if json.Unmarshal(body, &env) == nil && env.Reply != nil {
			return coach.Reply{
				Text:               strings.TrimSpace(*env.Reply),
				CheckpointComplete: env.CheckpointComplete,
			}, true
		}
	}
	return coach.Reply{Text: strings.TrimSpace(stripFences(output))}, false
}

// ParseStructured returns the first JSON object in output, tolerating code
// fences and surrounding prose.
func ParseStructured(output string) (json.RawMessage, error) {
	body, err := extractObject(output)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractObject finds the first complete JSON object in s.
func extractObject(s string) ([]byte, error) {
	s = stripFences(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errNoJSONObject
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Join(errNoJSONObject, err)
	}
	return bytes.TrimSpace(raw), nil
}

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		output   string
		text     string
		complete bool
		envelope bool
	}{
		{
			name:     "envelope",
			output:   `{"reply": "Tell me more.", "checkpoint_complete": true}`,
			text:     "Tell me more.",
			complete: true,
			envelope: true,
		},
		{
			name:     "fenced envelope",
			output:   "```json\n{\"reply\": \"Hi there\", \"checkpoint_complete\": false}\n```",
			text:     "Hi there",
			envelope: true,
		},
		{
			name:     "prose around envelope",
			output:   `Sure: {"reply": "Okay", "checkpoint_complete": true} done`,
			text:     "Okay",
			complete: true,
			envelope: true,
		},
		{
			name:   "plain text",
			output: "  What situations make you nervous?  ",
			text:   "What situations make you nervous?",
		},
		{
			name:   "object without reply",
			output: `{"checkpoint_complete": true}`,
			text:   `{"checkpoint_complete": true}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reply, ok := ParseReply(tc.output)
			assert.Equal(t, tc.envelope, ok)
			assert.Equal(t, tc.text, reply.Text)
			assert.Equal(t, tc.complete, reply.CheckpointComplete)
		})
	}
}

func TestParseStructured(t *testing.T) {
	t.Parallel()

	raw, err := ParseStructured("Here you go:\n```json\n{\"goal\": {\"name\": \"x\"}}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"goal": {"name": "x"}}`, string(raw))

	_, err = ParseStructured("no json here")
	require.ErrorIs(t, err, errNoJSONObject)

	_, err = ParseStructured(`{"unterminated": `)
	require.ErrorIs(t, err, errNoJSONObject)
}

package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/coach-labs/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	require.Equal(t, 6, c.Len())
	assert.Equal(t, 1, c.First())
	assert.Equal(t, 6, c.Last())

	names := make([]string, 0, c.Len())
	for _, p := range c.Phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"Discovery", "Assessment", "Education", "Goal Setting", "Action Planning", "Accountability Setup",
	}, names)

	for i, kind := range domain.AllKinds {
		assert.Equal(t, kind, c.Phases[i].Output, "phase %d output", i+1)
	}
}

func TestDefaultCatalogRequiredFieldsMatchCheckpoints(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	for _, p := range c.Phases {
		fields := make([]string, 0, len(p.Checkpoints))
		for _, cp := range p.Checkpoints {
			fields = append(fields, cp.Field)
		}
		assert.Equal(t, fields, p.RequiredFields, "phase %s", p.Name)
		assert.NotEmpty(t, p.Signals, "phase %s has no signals", p.Name)
	}
}

func TestLookups(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	cps, err := c.Checkpoints(2)
	require.NoError(t, err)
	require.Len(t, cps, 5)
	assert.Equal(t, "initiation_rating", cps[0].Field)

	req, err := c.RequiredFields(1)
	require.NoError(t, err)
	assert.Contains(t, req, "main_challenge")

	script, err := c.CheckpointScript(1, 0)
	require.NoError(t, err)
	assert.Contains(t, script.Question, "Walk me through a recent example")
	assert.Contains(t, script.Confirmation, "{value}")

	intro, err := c.IntroText(3)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intro, "Now that I understand"))

	p, err := c.PhaseForKind(domain.KindGoals)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Ordinal)
}

func TestLookupErrorsAreConfigurationErrors(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	_, err = c.Phase(0)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = c.Checkpoints(7)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = c.CheckpointScript(1, 6)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 1, cfgErr.Phase)
	assert.Equal(t, 6, cfgErr.Checkpoint)

	_, err = c.CheckpointScript(1, -1)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSignalsKeepDeclaredOrder(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	p, err := c.Phase(1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(p.Signals), 2)
	assert.Equal(t, Signal{Keyword: "anxiety", Fact: "emotion: anxiety"}, p.Signals[0])
	assert.Equal(t, Signal{Keyword: "nervous", Fact: "emotion: nervous"}, p.Signals[1])
}

func TestParseAcceptsZeroCheckpointPhase(t *testing.T) {
	t.Parallel()

	doc := `
persona: coach
phases:
  - ordinal: 1
    name: Warmup
    output: diagnostic_summary
    intro: hello
`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)
	cps, err := c.Checkpoints(1)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "empty payload",
			doc:  "   ",
			want: "empty",
		},
		{
			name: "no persona",
			doc:  "phases: []",
			want: "persona",
		},
		{
			name: "gap in ordinals",
			doc: `
persona: p
phases:
  - {ordinal: 2, name: A, output: goals, intro: hi}
`,
			want: "expected ordinal 1",
		},
		{
			name: "unknown kind",
			doc: `
persona: p
phases:
  - {ordinal: 1, name: A, output: horoscope, intro: hi}
`,
			want: "unknown output kind",
		},
		{
			name: "duplicate kind",
			doc: `
persona: p
phases:
  - {ordinal: 1, name: A, output: goals, intro: hi}
  - {ordinal: 2, name: B, output: goals, intro: hi}
`,
			want: "already used",
		},
		{
			name: "duplicate field",
			doc: `
persona: p
phases:
  - ordinal: 1
    name: A
    output: goals
    intro: hi
    checkpoints:
      - {field: x, setup: s, confirmation: c}
      - {field: x, setup: s, confirmation: c}
`,
			want: "duplicate field",
		},
		{
			name: "required field without checkpoint",
			doc: `
persona: p
phases:
  - ordinal: 1
    name: A
    output: goals
    intro: hi
    required_fields: [missing]
`,
			want: "has no checkpoint",
		},
		{
			name: "missing intro",
			doc: `
persona: p
phases:
  - {ordinal: 1, name: A, output: goals}
`,
			want: "intro is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, c.Len())

	_, err = Load("/nonexistent/catalog.yaml")
	require.Error(t, err)
}

func TestCatalogYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	out, err := yaml.Marshal(c)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, c.Phases[0].Signals, again.Phases[0].Signals)
	assert.Equal(t, c.Len(), again.Len())
}

package coach

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
)

func phase(t *testing.T, ordinal int) catalog.Phase {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	p, err := cat.Phase(ordinal)
	require.NoError(t, err)
	return p
}

func msgs(pairs ...string) []domain.Message {
	out := make([]domain.Message, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.Message{Role: domain.Role(pairs[i]), Content: pairs[i+1], Timestamp: testNow})
	}
	return out
}

func TestExtractFactsReadsUserMessagesOnly(t *testing.T) {
	t.Parallel()

	window := msgs(
		"assistant", "Does anxiety come up at work or at a party?",
		"user", "Mostly at WORK, I always freeze",
	)
	got := ExtractFacts(phase(t, 1), window, 0)

	assert.Equal(t, []string{"context: work", "frequency: always/chronic"}, got.Facts)
	assert.Empty(t, got.CompletedCheckpoints)
	assert.Equal(t, 0, got.CurrentCheckpoint)
}

func TestExtractFactsRatings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "out of ten", content: "I'd rate it 4 out of 10", want: []string{"rating given: 4/10"}},
		{name: "slash ten", content: "probably a 7/10", want: []string{"rating given: 7/10"}},
		{name: "ten itself", content: "on that scale I'm a 10", want: []string{"rating given: 10/10"}},
		{name: "no rating vocabulary", content: "I have 3 close friends", want: []string{}},
		{name: "out of range", content: "rating 42", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractFacts(phase(t, 2), msgs("user", tt.content), 0)
			assert.Equal(t, tt.want, got.Facts)
		})
	}
}

func TestExtractFactsDeduplicatesInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	window := msgs(
		"user", "it happens at work sometimes",
		"assistant", "Got it.",
		"user", "at work, and recently it got worse, sometimes daily",
	)
	got := ExtractFacts(phase(t, 1), window, 0)

	assert.Equal(t, []string{"context: work", "frequency: sometimes", "duration: recent"}, got.Facts)
}

func TestExtractFactsPositionalCompletion(t *testing.T) {
	t.Parallel()

	p := phase(t, 1)
	got := ExtractFacts(p, nil, 2)

	assert.Equal(t, map[string]bool{
		p.Checkpoints[0].Field: true,
		p.Checkpoints[1].Field: true,
	}, got.CompletedCheckpoints)
	assert.NotNil(t, got.Facts)
	assert.Empty(t, got.Facts)
}

func TestExtractFactsIsDeterministic(t *testing.T) {
	t.Parallel()

	p := phase(t, 2)
	window := msgs(
		"user", "eye contact is hard, I'd rate myself 3 out of 10",
		"assistant", "Thanks for sharing.",
		"user", "small talk is a 5/10 and I freeze",
	)
	first := ExtractFacts(p, window, 3)
	second := ExtractFacts(p, window, 3)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("ExtractFacts not deterministic (-first +second):\n%s", diff)
	}
	assert.Equal(t, []string{
		"rating given: 3/10",
		"issue: eye contact",
		"rating given: 5/10",
		"issue: small talk",
		"symptom: freezing",
	}, first.Facts)
}

func TestExtractFactsZeroCheckpointPhase(t *testing.T) {
	t.Parallel()

	p := catalog.Phase{Ordinal: 1, Name: "Open", Output: domain.KindDiagnosticSummary}
	got := ExtractFacts(p, msgs("user", "hello"), 0)

	assert.Empty(t, got.CompletedCheckpoints)
	assert.True(t, PhaseComplete(p, got.CompletedCheckpoints))
}

package coach

import (
	"regexp"
	"strings"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
)

var (
	ratingVocabulary  = []string{"rate", "rating", "scale", "/10", "out of 10"}
	ratingDenominator = regexp.MustCompile(`(?:/\s*10|out of 10)\b`)
	ratingNumber      = regexp.MustCompile(`\b(10|[1-9])\b`)
)

// ExtractFacts scans the user messages in window for ratings and the phase's
// keyword signals. Checkpoints before current are marked complete by
// position alone. The result depends only on its inputs.
func ExtractFacts(phase catalog.Phase, window []domain.Message, current int) domain.CheckpointProgress {
	var facts []string
	seen := make(map[string]bool)
	add := func(fact string) {
		if !seen[fact] {
			seen[fact] = true
			facts = append(facts, fact)
		}
	}

	for _, msg := range window {
		if msg.Role != domain.RoleUser {
			continue
		}
		content := strings.ToLower(msg.Content)

		for _, rating := range detectRatings(content) {
			add("rating given: " + rating + "/10")
		}
		for _, sig := range phase.Signals {
			if sig.Keyword != "" && strings.Contains(content, sig.Keyword) {
				add(sig.Fact)
			}
		}
	}

	completed := make(map[string]bool, len(phase.Checkpoints))
	for i, cp := range phase.Checkpoints {
		if i < current {
			completed[cp.Field] = true
		}
	}

	if facts == nil {
		facts = []string{}
	}
	return domain.CheckpointProgress{
		Facts:                facts,
		CompletedCheckpoints: completed,
		CurrentCheckpoint:    current,
	}
}

// detectRatings returns the numbers 1-10 in content when it also mentions a
// rating. Denominators like "/10" are not counted as ratings.
func detectRatings(content string) []string {
	mentioned := false
	for _, w := range ratingVocabulary {
		if strings.Contains(content, w) {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return nil
	}
	stripped := ratingDenominator.ReplaceAllString(content, " ")
	return ratingNumber.FindAllString(stripped, -1)
}

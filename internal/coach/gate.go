package coach

import "github.com/ashureev/coach-labs/internal/catalog"

// PhaseComplete reports whether every required field of phase is marked
// complete. A phase with no required fields is always complete.
func PhaseComplete(phase catalog.Phase, completed map[string]bool) bool {
	for _, field := range phase.RequiredFields {
		if _, ok := completed[field]; !ok {
			return false
		}
	}
	return true
}

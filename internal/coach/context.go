package coach

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
)

// ContextInput is everything the assembler reads to build instructions.
type ContextInput struct {
	Persona         string
	Phases          []catalog.Phase
	Phase           catalog.Phase
	CheckpointIndex int
	TurnCount       int
	Transcript      []domain.Message
	Progress        domain.CheckpointProgress
	Records         domain.PhaseRecords
	RecentFacts     int
}

const replyContract = `REPLY FORMAT:
Respond with a single JSON object and nothing else:
{"reply": "<your message to the user>", "checkpoint_complete": <true|false>}
Set "checkpoint_complete" to true only when the user's latest message answered the current checkpoint's question and your reply confirms it.`

// AssembleContext builds the instruction payload for the reply generator.
// Sections appear in a fixed order: persona, recent transcript, progress,
// summaries of earlier phases, then the active checkpoint script or a
// wrap-up instruction.
func AssembleContext(in ContextInput) string {
	var b strings.Builder

	b.WriteString(in.Persona)
	b.WriteString("\n\n")

	writeTranscript(&b, in.Transcript)
	writeProgress(&b, in)
	writePriorSummaries(&b, in)
	writeInstruction(&b, in)

	return b.String()
}

func writeTranscript(b *strings.Builder, transcript []domain.Message) {
	if len(transcript) == 0 {
		return
	}
	fmt.Fprintf(b, "=== IMMEDIATE MEMORY (last %d messages) ===\n", len(transcript))
	for _, msg := range transcript {
		role := "USER"
		if msg.Role == domain.RoleAssistant {
			role = "YOU (coach)"
		}
		fmt.Fprintf(b, "%s: %s\n", role, msg.Content)
	}
	b.WriteString("\nCRITICAL: If you just asked a question, the user's latest message is answering THAT question.\n")
	b.WriteString("=== END IMMEDIATE MEMORY ===\n\n")
}

func writeProgress(b *strings.Builder, in ContextInput) {
	total := len(in.Phase.Checkpoints)
	ordinal := in.CheckpointIndex + 1
	if ordinal > total {
		ordinal = total
	}

	b.WriteString("=== CHECKPOINT PROGRESS ===\n")
	fmt.Fprintf(b, "Current Phase: %d (%s)\n", in.Phase.Ordinal, in.Phase.Name)
	fmt.Fprintf(b, "Current Checkpoint: %d/%d\n", ordinal, total)
	fmt.Fprintf(b, "Completed Checkpoints: %d\n", len(in.Progress.CompletedCheckpoints))
	fmt.Fprintf(b, "Turns This Phase: %d (suggested minimum %d)\n", in.TurnCount, in.Phase.MinTurns)
	fmt.Fprintf(b, "Facts Extracted: %d\n", len(in.Progress.Facts))

	n := in.RecentFacts
	if n <= 0 {
		n = 5
	}
	if recent := in.Progress.RecentFacts(n); len(recent) > 0 {
		b.WriteString("\nRecent Facts:\n")
		for _, fact := range recent {
			fmt.Fprintf(b, "- %s\n", fact)
		}
	}
	b.WriteString("=== END CHECKPOINT PROGRESS ===\n\n")
}

func writePriorSummaries(b *strings.Builder, in ContextInput) {
	for _, p := range in.Phases {
		if p.Ordinal >= in.Phase.Ordinal {
			break
		}
		rec := in.Records.Get(p.Output)
		if rec == nil {
			continue
		}
		fmt.Fprintf(b, "=== PHASE %d SUMMARY (%s) ===\n", p.Ordinal, p.Name)
		summarizeRecord(b, rec)
		b.WriteString("===================================\n\n")
	}
}

func summarizeRecord(b *strings.Builder, rec domain.Record) {
	switch r := rec.(type) {
	case *domain.DiagnosticSummary:
		fmt.Fprintf(b, "- Main Challenge: %s\n", r.MainChallenge)
		fmt.Fprintf(b, "- Emotional State: %s\n", r.EmotionalState)
		fmt.Fprintf(b, "- Context: %s\n", r.Context)
		fmt.Fprintf(b, "- Frequency: %s\n", r.Frequency)
		fmt.Fprintf(b, "- Impact: %s\n", r.Impact)
		fmt.Fprintf(b, "- Backstory: %s\n", r.Backstory)
	case *domain.SkillGapAssessment:
		fmt.Fprintf(b, "- Primary Weakness: %s\n", r.PrimaryWeakness)
		fmt.Fprintf(b, "- Skill Gaps: %s\n", strings.Join(r.SkillGaps, ", "))
		fmt.Fprintf(b, "- Hidden Strength: %s\n", r.HiddenStrength)
		fmt.Fprintf(b, "- Ratings: %s\n", formatRatings(r.SkillRatings))
	case *domain.StudyGuide:
		fmt.Fprintf(b, "- Key Concepts Taught: %s\n", strings.Join(r.KeyConcepts, ", "))
	case *domain.GoalSet:
		fmt.Fprintf(b, "- Week 1: %s\n", r.Week1Goal.Description)
		fmt.Fprintf(b, "- Week 2: %s\n", r.Week2Goal.Description)
		fmt.Fprintf(b, "- Week 3-4: %s\n", r.Week34Goal.Description)
	case *domain.ActionPlan:
		fmt.Fprintf(b, "- Plan: %s\n", r.PlanTitle)
		fmt.Fprintf(b, "- Difficulty: %s\n", r.DifficultyLevel)
	case *domain.AccountabilitySetup:
		fmt.Fprintf(b, "- Tracking: %s\n", r.TrackingMethod)
		fmt.Fprintf(b, "- Check-in: %s\n", r.CheckInTime)
		fmt.Fprintf(b, "- Reminder Style: %s\n", r.ReminderStyle)
	}
}

// formatRatings renders ratings in key order so the output is deterministic.
func formatRatings(ratings map[string]int) string {
	keys := make([]string, 0, len(ratings))
	for k := range ratings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d/10", k, ratings[k])
	}
	return strings.Join(parts, ", ")
}

func writeInstruction(b *strings.Builder, in ContextInput) {
	p := in.Phase
	total := len(p.Checkpoints)

	b.WriteString("===========================================\n")
	if in.CheckpointIndex < total {
		cp := p.Checkpoints[in.CheckpointIndex]
		fmt.Fprintf(b, "CURRENT PHASE: %s\n", strings.ToUpper(p.Name))
		b.WriteString("===========================================\n\n")
		fmt.Fprintf(b, "INTRO (use if just starting phase):\n%s\n\n", p.Intro)
		fmt.Fprintf(b, "CURRENT CHECKPOINT: %d/%d\n", in.CheckpointIndex+1, total)
		fmt.Fprintf(b, "Field to extract: %s\n\n", cp.Field)
		writeScript(b, cp.Script)
		b.WriteString("\nRESPONSE LENGTH: 50-75 words max\n\n")
		b.WriteString("AFTER USER RESPONDS:\n")
		b.WriteString("- Confirm understanding using the confirmation template\n")
		b.WriteString("- Smoothly transition to the next checkpoint\n\n")
		b.WriteString("HANDLING OFF-TOPIC RESPONSES:\n")
		b.WriteString("- Gently redirect to the current question and circle back immediately\n")
		b.WriteString("- Don't skip ahead or collect multiple checkpoints at once\n\n")
	} else {
		fmt.Fprintf(b, "PHASE %d (%s) - COMPLETING\n", p.Ordinal, p.Name)
		b.WriteString("===========================================\n\n")
		b.WriteString("All checkpoints collected! Time to:\n")
		b.WriteString("1. Summarize what you've learned about them\n")
		b.WriteString("2. Confirm everything is accurate\n")
		b.WriteString("3. Signal readiness to move to the next phase\n\n")
		b.WriteString("List the key points and ask: \"Does that sound right? Anything I'm missing?\"\n\n")
	}
	b.WriteString(replyContract)
	b.WriteString("\n")
}

func writeScript(b *strings.Builder, s catalog.Script) {
	b.WriteString("YOUR SCRIPT FOR THIS CHECKPOINT:\n")
	step := 1
	line := func(label, text string) {
		if text == "" {
			return
		}
		fmt.Fprintf(b, "%d. %s: %s\n", step, label, text)
		step++
	}
	line("Setup", s.Setup)
	line("Teaching", s.Teaching)
	line("Main Question", s.Question)
	line("Understanding Check", s.Check)
	line("Why you're asking", s.Why)
	line("Follow-up if needed", s.FollowUp)
	line("Ask for an example", s.ExamplePrompt)
	line("Confirmation template", s.Confirmation)
}

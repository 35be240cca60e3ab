package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
	"github.com/ashureev/coach-labs/internal/records"
)

// Extractor turns a phase transcript into a validated structured record.
type Extractor struct {
	gen     StructuredGenerator
	window  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor creates an Extractor reading the last window messages.
func NewExtractor(gen StructuredGenerator, window int, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 15
	}
	return &Extractor{gen: gen, window: window, timeout: timeout, logger: logger}
}

// Extract asks the structured generator for phase's record and validates it.
// Nothing is returned unless the payload matches the record schema.
func (e *Extractor) Extract(ctx context.Context, phase catalog.Phase, transcript []domain.Message, prior domain.PhaseRecords) (domain.Record, json.RawMessage, error) {
	schema, err := records.Schema(phase.Output)
	if err != nil {
		return nil, nil, &ConfigurationError{Phase: phase.Ordinal, Reason: "no schema for output", Err: err}
	}

	if len(transcript) > e.window {
		transcript = transcript[len(transcript)-e.window:]
	}
	instructions := ExtractionInstructions(phase.Output, transcript, prior)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := e.gen.GenerateStructured(ctx, instructions, schema)
	if err != nil {
		return nil, nil, &GenerationError{Op: "extract", Err: err}
	}

	rec, err := records.Decode(phase.Output, raw)
	if err != nil {
		var ve *records.ValidationError
		if errors.As(err, &ve) {
			e.logger.Warn("Structured record failed validation",
				"kind", phase.Output,
				"violations", ve.Violations)
			return nil, nil, &SchemaValidationError{Kind: phase.Output, Violations: ve.Violations, Err: err}
		}
		return nil, nil, &SchemaValidationError{Kind: phase.Output, Err: err}
	}
	return rec, raw, nil
}

// ExtractionInstructions builds the fixed extraction template for kind.
func ExtractionInstructions(kind domain.PhaseKind, transcript []domain.Message, prior domain.PhaseRecords) string {
	var conv strings.Builder
	for _, msg := range transcript {
		speaker := "User"
		if msg.Role == domain.RoleAssistant {
			speaker = "Coach"
		}
		fmt.Fprintf(&conv, "%s: %s\n", speaker, msg.Content)
	}

	var b strings.Builder
	switch kind {
	case domain.KindDiagnosticSummary:
		b.WriteString("Based on this conversation, extract a diagnostic summary.\n\n")
		fmt.Fprintf(&b, "Conversation:\n%s\n", conv.String())
		b.WriteString(`Extract:
- main_challenge: The SPECIFIC core social skill issue (not vague like "bad at socializing")
- emotional_state: Primary emotion (anxious, frustrated, hopeless, etc.)
- context: Primary setting where this happens (work, parties, dating, etc.)
- impact: Concrete life impact
- backstory: Timeline and trigger
- frequency: How often (daily, weekly, occasionally)
`)
	case domain.KindSkillAssessment:
		b.WriteString("Based on this skills assessment conversation, extract specific skill gaps.\n\n")
		fmt.Fprintf(&b, "Conversation:\n%s\n", conv.String())
		fmt.Fprintf(&b, "Previous Context:\n- Main Challenge: %s\n\n", diagnosticField(prior, func(d *domain.DiagnosticSummary) string { return d.MainChallenge }))
		b.WriteString(`Extract:
- skill_gaps: 3-5 SPECIFIC skills (e.g., "maintaining eye contact", NOT "communication")
- skill_ratings: object of skill name -> integer rating 1-10
- primary_weakness: The #1 skill causing most problems
- hidden_strength: One skill they're better at than they realize
- improvement_priority: Ordered list [primary_weakness, second skill, third skill...]
`)
	case domain.KindStudyGuide:
		b.WriteString("Based on this educational conversation, create a study guide.\n\n")
		fmt.Fprintf(&b, "Conversation:\n%s\n", conv.String())
		fmt.Fprintf(&b, "User's Challenge: %s\n", diagnosticField(prior, func(d *domain.DiagnosticSummary) string { return d.MainChallenge }))
		gaps := ""
		if prior.SkillAssessment != nil {
			gaps = strings.Join(prior.SkillAssessment.SkillGaps, ", ")
		}
		fmt.Fprintf(&b, "Skill Gaps: %s\n\n", gaps)
		b.WriteString(`Extract:
- title: "[User's Challenge] Study Guide"
- key_concepts: 3-7 core concepts taught (psychology, techniques, etc.)
- lessons: 3-5 lessons, each {"topic": "...", "explanation": "...", "exercise": "..."}
- resources: Additional resources mentioned or suggested
`)
	case domain.KindGoals:
		b.WriteString("Based on this goal-setting conversation, create the goal set.\n\n")
		fmt.Fprintf(&b, "Conversation:\n%s\n", conv.String())
		weakness := "Unknown"
		if prior.SkillAssessment != nil {
			weakness = prior.SkillAssessment.PrimaryWeakness
		}
		fmt.Fprintf(&b, "Context:\n- Challenge: %s\n- Primary Weakness: %s\n\n",
			diagnosticField(prior, func(d *domain.DiagnosticSummary) string { return d.MainChallenge }), weakness)
		b.WriteString(`Extract:
- week_1_goal: {"description": "...", "metric": "X times per week", "timeline": "Week 1"}
- week_2_goal: Same format, harder goal
- week_3_4_goal: Same format, integration goal
- success_metrics: 3-4 ways the user will measure success
`)
	case domain.KindActionPlan:
		b.WriteString("Based on this action planning conversation, create the action plan.\n\n")
		fmt.Fprintf(&b, "Conversation:\n%s\n", conv.String())
		week1 := "Not set"
		if prior.Goals != nil {
			week1 = prior.Goals.Week1Goal.Description
		}
		fmt.Fprintf(&b, "Goals:\n- Week 1: %s\n\n", week1)
		b.WriteString(`Extract:
- plan_title: "5-Day Action Plan for [Challenge]"
- daily_tasks: exactly 5 entries [{"day": 1, "title": "Day 1 Theme", "morning": "...", "afternoon": "...", "evening": "..."}, ...]
- reflection_prompts: Daily questions
- difficulty_level: "easy", "moderate", or "challenging" based on tasks
`)
	case domain.KindAccountabilitySetup:
		b.WriteString("Based on this accountability setup conversation, extract preferences.\n\n")
		fmt.Fprintf(&b, "Conversation:\n%s\n", conv.String())
		b.WriteString(`Extract:
- tracking_method: Specific method the user chose
- check_in_frequency: How often they want check-ins
- check_in_time: When they want check-ins (e.g., "Daily at 8pm")
- reminder_style: "gentle", "firm", or "motivational"
- support_needed: List of support types they want
- start_date: When they start
`)
	}
	b.WriteString("\nReturn only a JSON object matching the provided schema.")
	return b.String()
}

func diagnosticField(prior domain.PhaseRecords, get func(*domain.DiagnosticSummary) string) string {
	if prior.DiagnosticSummary == nil {
		return "Unknown"
	}
	return get(prior.DiagnosticSummary)
}

package domain

// PhaseKind names the structured record a phase produces.
type PhaseKind string

const (
	KindDiagnosticSummary   PhaseKind = "diagnostic_summary"
	KindSkillAssessment     PhaseKind = "skill_assessment"
	KindStudyGuide          PhaseKind = "study_guide"
	KindGoals               PhaseKind = "goals"
	KindActionPlan          PhaseKind = "action_plan"
	KindAccountabilitySetup PhaseKind = "accountability_setup"
)

// AllKinds lists record kinds in program order.
var AllKinds = []PhaseKind{
	KindDiagnosticSummary,
	KindSkillAssessment,
	KindStudyGuide,
	KindGoals,
	KindActionPlan,
	KindAccountabilitySetup,
}

// Valid reports whether k is a known record kind.
func (k PhaseKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record is a validated structured summary of a completed phase.
type Record interface {
	Kind() PhaseKind
}

// DiagnosticSummary is produced by the Discovery phase.
type DiagnosticSummary struct {
	MainChallenge  string `json:"main_challenge"`
	EmotionalState string `json:"emotional_state"`
	Context        string `json:"context"`
	Impact         string `json:"impact"`
	Backstory      string `json:"backstory"`
	Frequency      string `json:"frequency"`
}

func (*DiagnosticSummary) Kind() PhaseKind { return KindDiagnosticSummary }

// SkillGapAssessment is produced by the Assessment phase.
type SkillGapAssessment struct {
	SkillGaps           []string       `json:"skill_gaps"`
	SkillRatings        map[string]int `json:"skill_ratings"`
	PrimaryWeakness     string         `json:"primary_weakness"`
	HiddenStrength      string         `json:"hidden_strength"`
	ImprovementPriority []string       `json:"improvement_priority"`
}

func (*SkillGapAssessment) Kind() PhaseKind { return KindSkillAssessment }

// Lesson is one unit of a study guide.
type Lesson struct {
	Topic       string `json:"topic"`
	Explanation string `json:"explanation"`
	Exercise    string `json:"exercise"`
}

// StudyGuide is produced by the Education phase.
type StudyGuide struct {
	Title       string   `json:"title"`
	KeyConcepts []string `json:"key_concepts"`
	Lessons     []Lesson `json:"lessons"`
	Resources   []string `json:"resources"`
}

func (*StudyGuide) Kind() PhaseKind { return KindStudyGuide }

// Goal is a single time-boxed goal.
type Goal struct {
	Description string `json:"description"`
	Metric      string `json:"metric"`
	Timeline    string `json:"timeline"`
}

// GoalSet is produced by the Goal Setting phase.
type GoalSet struct {
	Week1Goal      Goal     `json:"week_1_goal"`
	Week2Goal      Goal     `json:"week_2_goal"`
	Week34Goal     Goal     `json:"week_3_4_goal"`
	SuccessMetrics []string `json:"success_metrics"`
}

func (*GoalSet) Kind() PhaseKind { return KindGoals }

// DayPlan holds one day of the action plan.
type DayPlan struct {
	Day       int    `json:"day"`
	Title     string `json:"title"`
	Morning   string `json:"morning"`
	Afternoon string `json:"afternoon"`
	Evening   string `json:"evening"`
}

// ActionPlan is produced by the Action Planning phase.
type ActionPlan struct {
	PlanTitle         string    `json:"plan_title"`
	DailyTasks        []DayPlan `json:"daily_tasks"`
	ReflectionPrompts []string  `json:"reflection_prompts"`
	DifficultyLevel   string    `json:"difficulty_level"`
}

func (*ActionPlan) Kind() PhaseKind { return KindActionPlan }

// AccountabilitySetup is produced by the Accountability Setup phase.
type AccountabilitySetup struct {
	TrackingMethod   string   `json:"tracking_method"`
	CheckInFrequency string   `json:"check_in_frequency,omitempty"`
	CheckInTime      string   `json:"check_in_time"`
	ReminderStyle    string   `json:"reminder_style"`
	SupportNeeded    []string `json:"support_needed"`
	StartDate        string   `json:"start_date,omitempty"`
}

func (*AccountabilitySetup) Kind() PhaseKind { return KindAccountabilitySetup }

// PhaseRecords maps each phase output kind to its record. A nil field means
// the phase has not produced its record yet.
type PhaseRecords struct {
	DiagnosticSummary   *DiagnosticSummary   `json:"diagnostic_summary"`
	SkillAssessment     *SkillGapAssessment  `json:"skill_assessment"`
	StudyGuide          *StudyGuide          `json:"study_guide"`
	Goals               *GoalSet             `json:"goals"`
	ActionPlan          *ActionPlan          `json:"action_plan"`
	AccountabilitySetup *AccountabilitySetup `json:"accountability_setup"`
}

// Get returns the record stored for kind, or nil.
func (r PhaseRecords) Get(kind PhaseKind) Record {
	switch kind {
	case KindDiagnosticSummary:
		if r.DiagnosticSummary != nil {
			return r.DiagnosticSummary
		}
	case KindSkillAssessment:
		if r.SkillAssessment != nil {
			return r.SkillAssessment
		}
	case KindStudyGuide:
		if r.StudyGuide != nil {
			return r.StudyGuide
		}
	case KindGoals:
		if r.Goals != nil {
			return r.Goals
		}
	case KindActionPlan:
		if r.ActionPlan != nil {
			return r.ActionPlan
		}
	case KindAccountabilitySetup:
		if r.AccountabilitySetup != nil {
			return r.AccountabilitySetup
		}
	}
	return nil
}

// Has reports whether a record exists for kind.
func (r PhaseRecords) Has(kind PhaseKind) bool {
	return r.Get(kind) != nil
}

// Set stores rec under its own kind.
func (r *PhaseRecords) Set(rec Record) {
	switch v := rec.(type) {
	case *DiagnosticSummary:
		r.DiagnosticSummary = v
	case *SkillGapAssessment:
		r.SkillAssessment = v
	case *StudyGuide:
		r.StudyGuide = v
	case *GoalSet:
		r.Goals = v
	case *ActionPlan:
		r.ActionPlan = v
	case *AccountabilitySetup:
		r.AccountabilitySetup = v
	}
}

// Clear removes the record stored for kind.
func (r *PhaseRecords) Clear(kind PhaseKind) {
	switch kind {
	case KindDiagnosticSummary:
		r.DiagnosticSummary = nil
	case KindSkillAssessment:
		r.SkillAssessment = nil
	case KindStudyGuide:
		r.StudyGuide = nil
	case KindGoals:
		r.Goals = nil
	case KindActionPlan:
		r.ActionPlan = nil
	case KindAccountabilitySetup:
		r.AccountabilitySetup = nil
	}
}

// Missing lists, in program order, the kinds without a record.
func (r PhaseRecords) Missing() []PhaseKind {
	var missing []PhaseKind
	for _, kind := range AllKinds {
		if !r.Has(kind) {
			missing = append(missing, kind)
		}
	}
	return missing
}

// Available reports which kinds have a record.
func (r PhaseRecords) Available() map[PhaseKind]bool {
	out := make(map[PhaseKind]bool, len(AllKinds))
	for _, kind := range AllKinds {
		out[kind] = r.Has(kind)
	}
	return out
}

// Clone copies the record pointers. Records are immutable once stored, so
// sharing them between copies is safe.
func (r PhaseRecords) Clone() PhaseRecords {
	return r
}

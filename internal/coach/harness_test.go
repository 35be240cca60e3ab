package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
	"github.com/ashureev/coach-labs/internal/session"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

const validAssessment = `{
	"skill_gaps": ["starting conversations", "maintaining eye contact", "ending conversations gracefully"],
	"skill_ratings": {"initiation": 3, "maintenance": 4, "nonverbal": 5, "awareness": 6, "regulation": 2},
	"primary_weakness": "starting conversations",
	"hidden_strength": "listening",
	"improvement_priority": ["starting conversations", "maintaining eye contact", "ending conversations gracefully"]
}`

const validDiagnostic = `{
	"main_challenge": "freezing when starting conversations with coworkers",
	"emotional_state": "anxious",
	"context": "work meetings",
	"impact": "avoids team lunches",
	"backstory": "started after changing jobs",
	"frequency": "daily"
}`

type fakeText struct {
	mu           sync.Mutex
	replies      []Reply
	err          error
	block        bool
	instructions []string
	histories    [][]domain.Message
}

func (f *fakeText) Generate(ctx context.Context, instructions string, history []domain.Message) (Reply, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, instructions)
	f.histories = append(f.histories, append([]domain.Message(nil), history...))
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}
	if f.err != nil {
		return Reply{}, f.err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return Reply{Text: "Tell me more about that."}, nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

func (f *fakeText) lastInstructions() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instructions) == 0 {
		return ""
	}
	return f.instructions[len(f.instructions)-1]
}

type fakeStructured struct {
	mu    sync.Mutex
	raw   map[domain.PhaseKind]string
	err   error
	calls int
}

func (f *fakeStructured) GenerateStructured(_ context.Context, instructions string, schema []byte) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for kind, raw := range f.raw {
		if json.Valid(schema) && containsKindHint(instructions, kind) {
			return json.RawMessage(raw), nil
		}
	}
	return nil, errors.New("no structured output configured")
}

// containsKindHint matches extraction templates to their kind by the
// opening sentence each template uses.
func containsKindHint(instructions string, kind domain.PhaseKind) bool {
	hints := map[domain.PhaseKind]string{
		domain.KindDiagnosticSummary:   "diagnostic summary",
		domain.KindSkillAssessment:     "skill gaps",
		domain.KindStudyGuide:          "study guide",
		domain.KindGoals:               "goal set",
		domain.KindActionPlan:          "action plan",
		domain.KindAccountabilitySetup: "accountability setup",
	}
	return strings.Contains(instructions, hints[kind])
}

func (f *fakeStructured) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memRecords struct {
	mu      sync.Mutex
	rows    map[string]map[domain.PhaseKind]json.RawMessage
	saveErr error
	loadErr error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]map[domain.PhaseKind]json.RawMessage)}
}

func (m *memRecords) SaveRecord(_ context.Context, sessionID string, kind domain.PhaseKind, raw json.RawMessage) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[sessionID] == nil {
		m.rows[sessionID] = make(map[domain.PhaseKind]json.RawMessage)
	}
	m.rows[sessionID][kind] = raw
	return nil
}

func (m *memRecords) LoadPriorRecords(_ context.Context, sessionID string) (map[domain.PhaseKind]json.RawMessage, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.PhaseKind]json.RawMessage, len(m.rows[sessionID]))
	for k, v := range m.rows[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (m *memRecords) DeleteRecord(_ context.Context, sessionID string, kind domain.PhaseKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows[sessionID], kind)
	return nil
}

func (m *memRecords) DeleteRecords(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, sessionID)
	return nil
}

func (m *memRecords) has(sessionID string, kind domain.PhaseKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[sessionID][kind]
	return ok
}

type fakePlans struct {
	mu    sync.Mutex
	err   error
	calls int
	docs  []*domain.PlanDocument
}

func (f *fakePlans) CreatePlan(_ context.Context, userID, _ string, doc *domain.PlanDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.docs = append(f.docs, doc)
	return fmt.Sprintf("social_skills_%02d", len(f.docs)), nil
}

type fakeSink struct {
	mu   sync.Mutex
	docs map[string]any
}

func (f *fakeSink) SaveDocument(_ context.Context, sessionID, category, docID string, doc any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs == nil {
		f.docs = make(map[string]any)
	}
	f.docs[sessionID+"/"+category+"/"+docID] = doc
	return nil
}

type harness struct {
	o          *Orchestrator
	cat        *catalog.Catalog
	sessions   *session.Cache
	text       *fakeText
	structured *fakeStructured
	records    *memRecords
	plans      *fakePlans
	sink       *fakeSink
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)
	cache, err := session.NewCache(64, nil)
	require.NoError(t, err)

	h := &harness{
		cat:        cat,
		sessions:   cache,
		text:       &fakeText{},
		structured: &fakeStructured{raw: map[domain.PhaseKind]string{}},
		records:    newMemRecords(),
		plans:      &fakePlans{},
		sink:       &fakeSink{},
	}
	ids := 0
	h.o, err = New(Deps{
		Catalog:    cat,
		Sessions:   cache,
		Text:       h.text,
		Structured: h.structured,
		Records:    h.records,
		Plans:      h.plans,
		Sink:       h.sink,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        func() time.Time { return testNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("sess-%d", ids)
		},
	}, opts)
	require.NoError(t, err)
	return h
}

// seed stores a session positioned at phase with index checkpoints done.
func (h *harness) seed(t *testing.T, id string, phase, index int) *domain.Session {
	t.Helper()
	s := domain.NewSession(id, "user-1", phase, testNow)
	s.CheckpointIndex = index
	p, err := h.cat.Phase(phase)
	require.NoError(t, err)
	s.Progress = ExtractFacts(p, nil, index)
	require.NoError(t, h.sessions.Put(context.Background(), s))
	return s
}

func (h *harness) get(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func fullRecords() domain.PhaseRecords {
	var r domain.PhaseRecords
	r.Set(&domain.DiagnosticSummary{
		MainChallenge:  "starting conversations",
		EmotionalState: "nervous",
		Context:        "work",
		Impact:         "skips lunches",
		Backstory:      "new job",
		Frequency:      "daily",
	})
	r.Set(&domain.SkillGapAssessment{
		SkillGaps:           []string{"a", "b", "c"},
		SkillRatings:        map[string]int{"initiation": 3},
		PrimaryWeakness:     "a",
		HiddenStrength:      "listening",
		ImprovementPriority: []string{"a"},
	})
	r.Set(&domain.StudyGuide{Title: "Guide", KeyConcepts: []string{"x", "y", "z"}})
	r.Set(&domain.GoalSet{Week1Goal: domain.Goal{Description: "Say hi to 3 coworkers", Metric: "3 times", Timeline: "Week 1"}})
	r.Set(&domain.ActionPlan{
		PlanTitle: "5-Day Action Plan",
		DailyTasks: []domain.DayPlan{
			{Day: 1, Title: "Warm up", Morning: "Smile at a barista", Afternoon: "Ask a coworker a question", Evening: "Reflect"},
			{Day: 2, Morning: "Greet a neighbor", Evening: "Journal"},
			{Day: 3, Title: "Stretch", Morning: "m3", Afternoon: "a3", Evening: "e3"},
			{Day: 4, Title: "Push", Morning: "m4", Afternoon: "a4", Evening: "e4"},
			{Day: 5, Title: "Celebrate", Morning: "m5", Afternoon: "a5", Evening: "e5"},
		},
		DifficultyLevel: "moderate",
	})
	r.Set(&domain.AccountabilitySetup{TrackingMethod: "journal", CheckInTime: "8pm", ReminderStyle: "gentle"})
	return r
}

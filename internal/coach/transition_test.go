package coach

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coach-labs/internal/domain"
)

func TestTransitionAdvancesPhase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	s := h.seed(t, "s1", 1, 4)
	s.TurnCount = 7
	require.NoError(t, h.sessions.Put(context.Background(), s))

	res, err := h.o.Transition(context.Background(), "s1")
	require.NoError(t, err)

	p2 := phase(t, 2)
	assert.Equal(t, 1, res.OldPhase)
	assert.Equal(t, 2, res.NewPhase)
	assert.Equal(t, "Assessment", res.PhaseName)
	assert.Equal(t, p2.Intro, res.IntroText)
	assert.False(t, res.ProgramComplete)

	sess := h.get(t, "s1")
	assert.Equal(t, 2, sess.Phase)
	assert.Equal(t, 0, sess.TurnCount)
	assert.Equal(t, 0, sess.CheckpointIndex)
	assert.Empty(t, sess.Progress.CompletedCheckpoints)
	require.NotEmpty(t, sess.Messages)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, domain.RoleAssistant, last.Role)
	assert.Equal(t, p2.Intro, last.Content)
}

func TestTransitionUnknownSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	_, err := h.o.Transition(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTransitionFromLastPhaseFinalizes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	s := h.seed(t, "s1", 6, 5)
	s.Records = fullRecords()
	require.NoError(t, h.sessions.Put(context.Background(), s))

	res, err := h.o.Transition(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, res.ProgramComplete)
	assert.Equal(t, "social_skills_01", res.FinalDocumentID)

	sess := h.get(t, "s1")
	assert.True(t, sess.ProgramComplete)
	assert.Equal(t, "social_skills_01", sess.FinalDocumentID)
	assert.Equal(t, 6, sess.Phase)

	require.Len(t, h.plans.docs, 1)
	assert.Equal(t, "Say hi to 3 coworkers", h.plans.docs[0].GoalName)
	assert.Contains(t, h.sink.docs, "s1/plans/social_skills_01")

	_, err = h.o.HandleTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "one more thing"})
	require.ErrorIs(t, err, ErrProgramComplete)

	again, err := h.o.Transition(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "social_skills_01", again.FinalDocumentID)
	assert.Equal(t, 1, h.plans.calls)
}

func TestTransitionFinalizeFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	before := h.seed(t, "s1", 6, 5)
	h.plans.err = errors.New("store offline")

	res, err := h.o.Transition(context.Background(), "s1")
	require.Nil(t, res)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create_plan", pe.Op)

	after := h.get(t, "s1")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("session changed after failed finalize (-before +after):\n%s", diff)
	}
	assert.False(t, after.ProgramComplete)
	assert.Empty(t, after.FinalDocumentID)
}

func TestCompleteProgramRequiresEveryRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	s := h.seed(t, "s1", 3, 0)
	records := fullRecords()
	records.Clear(domain.KindStudyGuide)
	records.Clear(domain.KindGoals)
	s.Records = records
	require.NoError(t, h.sessions.Put(context.Background(), s))

	_, err := h.o.CompleteProgram(context.Background(), "s1")
	require.ErrorIs(t, err, ErrIncompleteProgram)
	var ipe *IncompleteProgramError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, []domain.PhaseKind{domain.KindStudyGuide, domain.KindGoals}, ipe.Missing)
	assert.Equal(t, 0, h.plans.calls)
}

func TestCompleteProgramFromAnyPhase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	s := h.seed(t, "s1", 4, 2)
	s.Records = fullRecords()
	require.NoError(t, h.sessions.Put(context.Background(), s))

	res, err := h.o.CompleteProgram(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, res.ProgramComplete)
	assert.NotEmpty(t, res.FinalDocumentID)
	assert.True(t, h.get(t, "s1").ProgramComplete)
}

func TestRedoPhaseClearsRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	s := h.seed(t, "s1", 2, 5)
	s.Records = fullRecords()
	s.TurnCount = 9
	require.NoError(t, h.sessions.Put(context.Background(), s))
	require.NoError(t, h.records.SaveRecord(context.Background(), "s1", domain.KindSkillAssessment, []byte(validAssessment)))

	res, err := h.o.RedoPhase(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.OldPhase)
	assert.Equal(t, 2, res.NewPhase)

	sess := h.get(t, "s1")
	assert.False(t, sess.Records.Has(domain.KindSkillAssessment))
	assert.True(t, sess.Records.Has(domain.KindDiagnosticSummary))
	assert.Equal(t, 0, sess.CheckpointIndex)
	assert.Equal(t, 0, sess.TurnCount)
	assert.False(t, h.records.has("s1", domain.KindSkillAssessment))
}

func TestResetDeletesSessionAndRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	h.seed(t, "s1", 2, 0)
	require.NoError(t, h.records.SaveRecord(context.Background(), "s1", domain.KindDiagnosticSummary, []byte(validDiagnostic)))

	require.NoError(t, h.o.Reset(context.Background(), "s1"))

	got, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, h.records.has("s1", domain.KindDiagnosticSummary))

	require.NoError(t, h.o.Reset(context.Background(), "never-existed"))
}

func TestViewsWaitForSessionLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	h.seed(t, "s1", 1, 0)

	unlock, err := h.o.locks.Lock(context.Background(), "s1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.o.Snapshot(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = h.o.Export(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = h.o.Debug(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestViews(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultOptions())
	s := h.seed(t, "s1", 2, 1)
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	for i := 0; i < 3; i++ {
		s.Append(domain.RoleUser, "question", testNow)
		s.Append(domain.RoleAssistant, string(long), testNow)
	}
	s.Records.Set(&domain.DiagnosticSummary{MainChallenge: "x"})
	require.NoError(t, h.sessions.Put(context.Background(), s))

	snap, err := h.o.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Assessment", snap.PhaseName)
	assert.Equal(t, 6, snap.MessageCount)
	assert.Equal(t, 1, snap.CheckpointIndex)

	exp, err := h.o.Export(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, exp.History, 6)
	assert.Equal(t, "user", exp.History[0].Role)
	assert.Equal(t, "coach", exp.History[1].Role)
	assert.Len(t, exp.History[1].Content, 150)

	dbg, err := h.o.Debug(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, dbg.LastMessages, 5)
	assert.Equal(t, "coach", dbg.LastMessages[0].Role)
	assert.Len(t, dbg.LastMessages[0].Content, 103)
	assert.Equal(t, "question", dbg.LastMessages[1].Content)
	assert.True(t, dbg.PhaseDataAvailable[domain.KindDiagnosticSummary])
	assert.False(t, dbg.PhaseDataAvailable[domain.KindGoals])

	_, err = h.o.Debug(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

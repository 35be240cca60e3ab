package coach

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
)

// TransitionResult reports the effect of a transition request.
type TransitionResult struct {
	SessionID       string `json:"session_id"`
	OldPhase        int    `json:"old_phase"`
	NewPhase        int    `json:"new_phase"`
	PhaseName       string `json:"phase_name,omitempty"`
	IntroText       string `json:"response,omitempty"`
	ProgramComplete bool   `json:"program_complete"`
	FinalDocumentID string `json:"course_id,omitempty"`
	UserID          string `json:"user_id,omitempty"`
}

// Transition moves the session past its current phase. Past the last phase
// the program is finalized: the plan document is persisted first and the
// terminal state is committed only if that succeeds. Repeating a transition
// on a finished program returns the existing document id.
func (o *Orchestrator) Transition(ctx context.Context, sessionID string) (*TransitionResult, error) {
	return o.signal(ctx, sessionID, SignalTransition)
}

// CompleteProgram finalizes the program from any phase, refusing with an
// IncompleteProgramError while any phase record is missing.
func (o *Orchestrator) CompleteProgram(ctx context.Context, sessionID string) (*TransitionResult, error) {
	return o.signal(ctx, sessionID, SignalComplete)
}

func (o *Orchestrator) signal(ctx context.Context, sessionID string, sig Signal) (*TransitionResult, error) {
	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ProgramComplete {
		return &TransitionResult{
			SessionID:       sess.ID,
			OldPhase:        sess.Phase,
			NewPhase:        sess.Phase,
			ProgramComplete: true,
			FinalDocumentID: sess.FinalDocumentID,
			UserID:          sess.UserID,
		}, nil
	}

	next, ok := o.machine.Next(sess.Phase, sig)
	if !ok {
		return nil, &ConfigurationError{Phase: sess.Phase, Reason: fmt.Sprintf("no transition on %s", sig)}
	}

	if sig == SignalComplete {
		if missing := sess.Records.Missing(); len(missing) > 0 {
			return nil, &IncompleteProgramError{Missing: missing}
		}
	}

	work := sess.Clone()
	var result *TransitionResult
	if next == Terminal {
		result, err = o.finalize(ctx, work)
		if err != nil {
			return nil, err
		}
	} else {
		phase, err := o.catalog.Phase(sess.Phase)
		if err != nil {
			return nil, err
		}
		result, err = o.advance(work, phase, next)
		if err != nil {
			return nil, err
		}
	}

	if err := o.sessions.Put(ctx, work); err != nil {
		// The cache keeps the new state; only durability is affected.
		o.countPersistFailure("put_session")
		o.logger.Error("Failed to persist session after transition", "session_id", sessionID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.TransitionsTotal.WithLabelValues(string(sig)).Inc()
	}
	return result, nil
}

// advance moves work from phase to next, resetting per-phase tracking and
// appending the next phase's intro as a coach message.
func (o *Orchestrator) advance(work *domain.Session, phase catalog.Phase, next int) (*TransitionResult, error) {
	nextPhase, err := o.catalog.Phase(next)
	if err != nil {
		return nil, err
	}

	work.Phase = next
	work.ResetPhaseTracking()
	now := o.now()
	work.Append(domain.RoleAssistant, nextPhase.Intro, now)
	work.UpdatedAt = now

	o.logger.Info("Phase transition",
		"session_id", work.ID,
		"old_phase", phase.Ordinal,
		"new_phase", next)

	return &TransitionResult{
		SessionID: work.ID,
		OldPhase:  phase.Ordinal,
		NewPhase:  next,
		PhaseName: nextPhase.Name,
		IntroText: nextPhase.Intro,
		UserID:    work.UserID,
	}, nil
}

// autoAdvance applies SignalAutoAdvance after a record was stored during a
// turn. It returns nil when the phase has no auto-advance edge.
func (o *Orchestrator) autoAdvance(work *domain.Session, phase catalog.Phase) *TransitionResult {
	next, ok := o.machine.Next(phase.Ordinal, SignalAutoAdvance)
	if !ok {
		return nil
	}
	result, err := o.advance(work, phase, next)
	if err != nil {
		o.logger.Error("Auto-advance failed", "session_id", work.ID, "phase", phase.Ordinal, "error", err)
		return nil
	}
	if o.metrics != nil {
		o.metrics.TransitionsTotal.WithLabelValues(string(SignalAutoAdvance)).Inc()
	}
	return result
}

// finalize persists the plan document and marks work as complete. work is
// left untouched when the plan store fails.
func (o *Orchestrator) finalize(ctx context.Context, work *domain.Session) (*TransitionResult, error) {
	now := o.now()
	doc := BuildPlan(work, now)

	docID, err := o.plans.CreatePlan(ctx, work.UserID, work.ID, doc)
	if err != nil {
		o.countPersistFailure("create_plan")
		o.logger.Error("Failed to create plan document", "session_id", work.ID, "error", err)
		return nil, &PersistenceError{Op: "create_plan", Err: err}
	}
	if docID == "" {
		return nil, &PersistenceError{Op: "create_plan", Err: errors.New("empty document id")}
	}
	doc.ID = docID

	if o.sink != nil {
		if err := o.sink.SaveDocument(ctx, work.ID, CategoryPlans, docID, doc); err != nil {
			o.countPersistFailure("save_document")
			o.logger.Warn("Failed to mirror plan document", "session_id", work.ID, "course_id", docID, "error", err)
		}
	}

	work.ProgramComplete = true
	work.FinalDocumentID = docID
	work.UpdatedAt = now
	if o.metrics != nil {
		o.metrics.ProgramsCompleted.Inc()
	}
	o.logger.Info("Program complete", "session_id", work.ID, "user_id", work.UserID, "course_id", docID)

	return &TransitionResult{
		SessionID:       work.ID,
		OldPhase:        work.Phase,
		NewPhase:        work.Phase,
		ProgramComplete: true,
		FinalDocumentID: docID,
		UserID:          work.UserID,
	}, nil
}

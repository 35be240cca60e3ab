package coach

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/coach-labs/internal/domain"
)

// ExtractionResult reports a retried structured extraction.
type ExtractionResult struct {
	SessionID  string            `json:"session_id"`
	Phase      int               `json:"phase"`
	Kind       domain.PhaseKind  `json:"kind"`
	Record     domain.Record     `json:"structured_data"`
	Transition *TransitionResult `json:"transition,omitempty"`
	PersistErr error             `json:"-"`
}

// RetryExtraction re-runs the structured extraction for the active phase
// without another conversational turn. It returns ErrNothingToExtract unless
// the last turn satisfied the gate and the phase has no record yet.
func (o *Orchestrator) RetryExtraction(ctx context.Context, sessionID string) (*ExtractionResult, error) {
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
		return nil, ErrProgramComplete
	}
	phase, err := o.catalog.Phase(sess.Phase)
	if err != nil {
		return nil, err
	}
	if sess.Records.Has(phase.Output) || !PhaseComplete(phase, sess.Progress.CompletedCheckpoints) {
		return nil, ErrNothingToExtract
	}

	work := sess.Clone()
	rec, raw, err := o.extractRecord(ctx, work, phase)
	if err != nil {
		return nil, err
	}

	result := &ExtractionResult{
		SessionID: sessionID,
		Phase:     phase.Ordinal,
		Kind:      phase.Output,
		Record:    rec,
	}
	result.PersistErr = o.storeRecord(ctx, work, phase, rec, raw)
	if o.opts.AutoAdvance {
		result.Transition = o.autoAdvance(work, phase)
	}
	work.UpdatedAt = o.now()

	if err := o.sessions.Put(ctx, work); err != nil {
		o.countPersistFailure("put_session")
		o.logger.Error("Failed to persist session after extraction", "session_id", sessionID, "error", err)
		result.PersistErr = errors.Join(result.PersistErr, &PersistenceError{Op: "put_session", Err: err})
	}
	return result, nil
}

// RedoPhase restarts the active phase: checkpoint tracking is reset, the
// phase record is discarded, and the phase intro is repeated.
func (o *Orchestrator) RedoPhase(ctx context.Context, sessionID string) (*TransitionResult, error) {
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
		return nil, ErrProgramComplete
	}
	phase, err := o.catalog.Phase(sess.Phase)
	if err != nil {
		return nil, err
	}

	if o.records != nil {
		if err := o.records.DeleteRecord(ctx, sessionID, phase.Output); err != nil {
			o.countPersistFailure("delete_record")
			return nil, &PersistenceError{Op: "delete_record", Err: err}
		}
	}

	work := sess.Clone()
	work.Records.Clear(phase.Output)
	work.ResetPhaseTracking()
	now := o.now()
	work.Append(domain.RoleAssistant, phase.Intro, now)
	work.UpdatedAt = now

	if err := o.sessions.Put(ctx, work); err != nil {
		o.countPersistFailure("put_session")
		o.logger.Error("Failed to persist session after redo", "session_id", sessionID, "error", err)
	}
	o.logger.Info("Phase restarted", "session_id", sessionID, "phase", phase.Ordinal)

	return &TransitionResult{
		SessionID: sessionID,
		OldPhase:  phase.Ordinal,
		NewPhase:  phase.Ordinal,
		PhaseName: phase.Name,
		IntroText: phase.Intro,
		UserID:    work.UserID,
	}, nil
}

// Reset deletes the session and its stored phase records. Resetting an
// unknown session is not an error.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	if err := o.sessions.Delete(ctx, sessionID); err != nil {
		o.countPersistFailure("delete_session")
		return &PersistenceError{Op: "delete_session", Err: err}
	}
	if o.records != nil {
		if err := o.records.DeleteRecords(ctx, sessionID); err != nil {
			o.countPersistFailure("delete_records")
			return &PersistenceError{Op: "delete_records", Err: err}
		}
	}
	o.logger.Info("Session reset", "session_id", sessionID)
	return nil
}

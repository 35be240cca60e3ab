package coach

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/coach-labs/internal/domain"
)

// debugMessages and debugPreview bound the Debug view's transcript tail.
const (
	debugMessages = 5
	debugPreview  = 100
)

// Snapshot is the read-only state of a session.
type Snapshot struct {
	SessionID       string                    `json:"session_id"`
	UserID          string                    `json:"user_id"`
	Phase           int                       `json:"phase"`
	PhaseName       string                    `json:"phase_name"`
	TurnCount       int                       `json:"turn_count"`
	CheckpointIndex int                       `json:"current_checkpoint"`
	MessageCount    int                       `json:"message_count"`
	CreatedAt       time.Time                 `json:"created_at"`
	Progress        domain.CheckpointProgress `json:"checkpoint_progress"`
	Records         domain.PhaseRecords       `json:"phase_data"`
	ProgramComplete bool                      `json:"program_complete"`
	FinalDocumentID string                    `json:"course_id,omitempty"`
}

// ExportMessage is a transcript entry in an export. The coach's role is
// reported as "coach".
type ExportMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Export is the full transcript and phase records of a session.
type Export struct {
	SessionID       string                    `json:"session_id"`
	UserID          string                    `json:"user_id"`
	CreatedAt       time.Time                 `json:"created_at"`
	Phase           int                       `json:"current_phase"`
	TotalTurns      int                       `json:"total_turns"`
	CheckpointIndex int                       `json:"current_checkpoint"`
	Progress        domain.CheckpointProgress `json:"checkpoint_progress"`
	History         []ExportMessage           `json:"conversation_history"`
	Records         domain.PhaseRecords       `json:"phase_outputs"`
}

// Debug is a compact diagnostic view of a session.
type Debug struct {
	SessionID          string                    `json:"session_id"`
	Phase              int                       `json:"phase"`
	TurnCount          int                       `json:"turn_count"`
	CheckpointIndex    int                       `json:"current_checkpoint"`
	Progress           domain.CheckpointProgress `json:"checkpoint_progress"`
	LastMessages       []ExportMessage           `json:"last_5_messages"`
	PhaseDataAvailable map[domain.PhaseKind]bool `json:"phase_data_available"`
}

// Snapshot returns the current state of a session.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	sess, err := o.loadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Phase:           sess.Phase,
		TurnCount:       sess.TurnCount,
		CheckpointIndex: sess.CheckpointIndex,
		MessageCount:    len(sess.Messages),
		CreatedAt:       sess.CreatedAt,
		Progress:        sess.Progress,
		Records:         sess.Records,
		ProgramComplete: sess.ProgramComplete,
		FinalDocumentID: sess.FinalDocumentID,
	}
	if p, err := o.catalog.Phase(sess.Phase); err == nil {
		s.PhaseName = p.Name
	}
	return s, nil
}

// Export returns the full transcript and records of a session.
func (o *Orchestrator) Export(ctx context.Context, sessionID string) (*Export, error) {
	sess, err := o.loadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]ExportMessage, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		history = append(history, ExportMessage{Role: exportRole(m.Role), Content: m.Content})
	}
	return &Export{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		CreatedAt:       sess.CreatedAt,
		Phase:           sess.Phase,
		TotalTurns:      sess.TurnCount,
		CheckpointIndex: sess.CheckpointIndex,
		Progress:        sess.Progress,
		History:         history,
		Records:         sess.Records,
	}, nil
}

// Debug returns the last few messages, truncated, and record availability.
func (o *Orchestrator) Debug(ctx context.Context, sessionID string) (*Debug, error) {
	sess, err := o.loadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tail := sess.RecentMessages(debugMessages)
	last := make([]ExportMessage, 0, len(tail))
	for _, m := range tail {
		content := m.Content
		if r := []rune(content); len(r) > debugPreview {
			content = string(r[:debugPreview]) + "..."
		}
		last = append(last, ExportMessage{Role: exportRole(m.Role), Content: content})
	}
	return &Debug{
		SessionID:          sess.ID,
		Phase:              sess.Phase,
		TurnCount:          sess.TurnCount,
		CheckpointIndex:    sess.CheckpointIndex,
		Progress:           sess.Progress,
		LastMessages:       last,
		PhaseDataAvailable: sess.Records.Available(),
	}, nil
}

func exportRole(r domain.Role) string {
	if r == domain.RoleUser {
		return "user"
	}
	return "coach"
}

// loadLocked reads a session under its lock so a cache refill never races a
// running turn.
func (o *Orchestrator) loadLocked(ctx context.Context, sessionID string) (*domain.Session, error) {
	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()
	return o.load(ctx, sessionID)
}

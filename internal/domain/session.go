package domain

import (
	"time"
)

// Role tags the author of a message in a session log.
type Role string

const (
	// RoleUser marks a message written by the coached user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the coach.
	RoleAssistant Role = "assistant"
)

// Message is a single entry of the session log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// CheckpointProgress is the per-turn tally of extracted facts and completed
// checkpoint fields for the active phase. It is recomputed every turn.
type CheckpointProgress struct {
	Facts                []string        `json:"facts"`
	CompletedCheckpoints map[string]bool `json:"completed_checkpoints"`
	CurrentCheckpoint    int             `json:"current_checkpoint"`
}

// RecentFacts returns at most n of the most recently extracted facts.
func (p CheckpointProgress) RecentFacts(n int) []string {
	if n >= len(p.Facts) {
		return p.Facts
	}
	return p.Facts[len(p.Facts)-n:]
}

// Session holds the mutable state of one coaching conversation.
type Session struct {
	ID              string             `json:"session_id"`
	UserID          string             `json:"user_id"`
	Phase           int                `json:"phase"`
	CheckpointIndex int                `json:"current_checkpoint"`
	TurnCount       int                `json:"turn_count"`
	Messages        []Message          `json:"messages"`
	Records         PhaseRecords       `json:"phase_data"`
	Progress        CheckpointProgress `json:"checkpoint_progress"`
	ProgramComplete bool               `json:"program_complete"`
	FinalDocumentID string             `json:"final_document_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewSession returns a fresh session positioned at the given phase.
func NewSession(id, userID string, phase int, now time.Time) *Session {
	return &Session{
		ID:       id,
		UserID:   userID,
		Phase:    phase,
		Messages: []Message{},
		Progress: CheckpointProgress{
			Facts:                []string{},
			CompletedCheckpoints: map[string]bool{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the session log.
func (s *Session) Append(role Role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at})
}

// RecentMessages returns the last n messages from the log.
func (s *Session) RecentMessages(n int) []Message {
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// ResetPhaseTracking clears per-phase counters. Used on transition and redo.
func (s *Session) ResetPhaseTracking() {
	s.TurnCount = 0
	s.CheckpointIndex = 0
	s.Progress = CheckpointProgress{
		Facts:                []string{},
		CompletedCheckpoints: map[string]bool{},
	}
}

// Clone returns a deep copy so a turn can be applied speculatively.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.Progress.Facts != nil {
		c.Progress.Facts = make([]string, len(s.Progress.Facts))
		copy(c.Progress.Facts, s.Progress.Facts)
	}
	c.Progress.CompletedCheckpoints = make(map[string]bool, len(s.Progress.CompletedCheckpoints))
	for k, v := range s.Progress.CompletedCheckpoints {
		c.Progress.CompletedCheckpoints[k] = v
	}
	c.Records = s.Records.Clone()
	return &c
}

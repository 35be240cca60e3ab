package coach

import (
	"context"
	"encoding/json"

	"github.com/ashureev/coach-labs/internal/domain"
)

// Reply is a generated coach message plus the typed signal telling the
// orchestrator whether the active checkpoint was satisfied by this exchange.
type Reply struct {
	Text               string `json:"reply"`
	CheckpointComplete bool   `json:"checkpoint_complete"`
}

// TextGenerator produces the coach's next reply.
type TextGenerator interface {
	Generate(ctx context.Context, instructions string, history []domain.Message) (Reply, error)
}

// StructuredGenerator produces a JSON value intended to match schema.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, instructions string, schema []byte) (json.RawMessage, error)
}

// PhaseRecordStore persists validated phase records. DeleteRecord backs an
// explicit phase redo and DeleteRecords a session reset.
type PhaseRecordStore interface {
	SaveRecord(ctx context.Context, sessionID string, kind domain.PhaseKind, record json.RawMessage) error
	LoadPriorRecords(ctx context.Context, sessionID string) (map[domain.PhaseKind]json.RawMessage, error)
	DeleteRecord(ctx context.Context, sessionID string, kind domain.PhaseKind) error
	DeleteRecords(ctx context.Context, sessionID string) error
}

// PlanStore persists the final plan and returns its document id.
type PlanStore interface {
	CreatePlan(ctx context.Context, userID, sessionID string, doc *domain.PlanDocument) (string, error)
}

// DocumentSink saves arbitrary JSON under a session and category.
type DocumentSink interface {
	SaveDocument(ctx context.Context, sessionID, category, docID string, doc any) error
}

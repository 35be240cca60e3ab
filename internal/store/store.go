// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashureev/coach-labs/internal/domain"
)

// Repository defines the interface for persisting coaching sessions, phase
// records and plan documents.
type Repository interface {
	// GetSession retrieves a session by id. It returns (nil, nil) when the
	// session does not exist.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// UpsertSession creates or replaces a session.
	UpsertSession(ctx context.Context, s *domain.Session) error

	// DeleteSession removes a session and its phase records.
	DeleteSession(ctx context.Context, id string) error

	// ExpiredSessionIDs lists sessions not updated within ttl.
	ExpiredSessionIDs(ctx context.Context, ttl time.Duration) ([]string, error)

	// DeleteExpiredSession removes a session and its phase records if it is
	// still not updated within ttl, reporting whether it was removed.
	DeleteExpiredSession(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// SaveRecord stores the validated record of one phase.
	SaveRecord(ctx context.Context, sessionID string, kind domain.PhaseKind, record json.RawMessage) error

	// LoadPriorRecords returns every stored record of a session by kind.
	LoadPriorRecords(ctx context.Context, sessionID string) (map[domain.PhaseKind]json.RawMessage, error)

	// DeleteRecord removes one phase record.
	DeleteRecord(ctx context.Context, sessionID string, kind domain.PhaseKind) error

	// DeleteRecords removes every phase record of a session.
	DeleteRecords(ctx context.Context, sessionID string) error

	// CreatePlan stores a plan document under the next social_skills_NN id
	// for the user and returns that id.
	CreatePlan(ctx context.Context, userID, sessionID string, doc *domain.PlanDocument) (string, error)

	// GetPlan retrieves a plan document. It returns (nil, nil) when absent.
	GetPlan(ctx context.Context, userID, docID string) (*domain.PlanDocument, error)

	// SaveDocument stores arbitrary JSON under a session and category.
	SaveDocument(ctx context.Context, sessionID, category, docID string, doc any) error

	// GetDocument returns a stored document body, or nil when absent.
	GetDocument(ctx context.Context, sessionID, category, docID string) (json.RawMessage, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

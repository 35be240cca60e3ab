package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/coach-labs/internal/domain"
	"github.com/ashureev/coach-labs/internal/shared"
)

// PlanPrefix prefixes every plan document id.
const PlanPrefix = "social_skills"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. modernc.org/sqlite
	// applies settings through _pragma parameters.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS coach_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		phase INTEGER NOT NULL,
		program_complete INTEGER NOT NULL DEFAULT 0,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_coach_sessions_updated ON coach_sessions(updated_at);
	CREATE INDEX IF NOT EXISTS idx_coach_sessions_user ON coach_sessions(user_id);

	CREATE TABLE IF NOT EXISTS phase_records (
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		record_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, kind)
	);

	CREATE TABLE IF NOT EXISTS plan_documents (
		user_id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		doc_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, doc_id)
	);

	CREATE TABLE IF NOT EXISTS session_documents (
		session_id TEXT NOT NULL,
		category TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, category, doc_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM coach_sessions WHERE session_id = ?`, id,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(stateJSON), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	if sess.Progress.Facts == nil {
		sess.Progress.Facts = []string{}
	}
	if sess.Progress.CompletedCheckpoints == nil {
		sess.Progress.CompletedCheckpoints = map[string]bool{}
	}
	return &sess, nil
}

// UpsertSession creates or replaces a session.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	query := `
	INSERT INTO coach_sessions (session_id, user_id, phase, program_complete, state_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		user_id = excluded.user_id,
		phase = excluded.phase,
		program_complete = excluded.program_complete,
		state_json = excluded.state_json,
		updated_at = excluded.updated_at`

	return s.write(ctx, "upsert_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID, sess.UserID, sess.Phase, sess.ProgramComplete, string(state),
			sess.CreatedAt.Unix(), s.now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes a session and its phase records.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return s.write(ctx, "delete_session", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM phase_records WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("delete phase records: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM coach_sessions WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			return nil
		})
	})
}

// ExpiredSessionIDs lists sessions whose last update is older than ttl.
func (s *SQLiteStore) ExpiredSessionIDs(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := s.now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM coach_sessions WHERE updated_at < ? ORDER BY updated_at`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteExpiredSession removes a session older than ttl together with its
// phase records. A session updated since is left alone. Plan documents are
// kept.
func (s *SQLiteStore) DeleteExpiredSession(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	threshold := s.now().Add(-ttl).Unix()
	var removed bool
	err := s.write(ctx, "delete_expired_session", func() error {
		removed = false
		return s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM coach_sessions WHERE session_id = ? AND updated_at < ?`, id, threshold)
			if err != nil {
				return fmt.Errorf("delete expired session: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM phase_records WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("delete expired phase records: %w", err)
			}
			removed = true
			return nil
		})
	})
	return removed, err
}

// SaveRecord stores the record of one phase, replacing an earlier one.
func (s *SQLiteStore) SaveRecord(ctx context.Context, sessionID string, kind domain.PhaseKind, record json.RawMessage) error {
	query := `
	INSERT INTO phase_records (session_id, kind, record_json, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id, kind) DO UPDATE SET
		record_json = excluded.record_json,
		created_at = excluded.created_at`

	return s.write(ctx, "save_record", func() error {
		if _, err := s.db.ExecContext(ctx, query, sessionID, string(kind), string(record), s.now().Unix()); err != nil {
			return fmt.Errorf("save phase record: %w", err)
		}
		return nil
	})
}

// LoadPriorRecords returns the stored records of a session keyed by kind.
func (s *SQLiteStore) LoadPriorRecords(ctx context.Context, sessionID string) (map[domain.PhaseKind]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, record_json FROM phase_records WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query phase records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close phase record rows", "error", closeErr)
		}
	}()

	out := make(map[domain.PhaseKind]json.RawMessage)
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return nil, fmt.Errorf("scan phase record row: %w", err)
		}
		out[domain.PhaseKind(kind)] = json.RawMessage(body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase records: %w", err)
	}
	return out, nil
}

// DeleteRecord removes one phase record.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, sessionID string, kind domain.PhaseKind) error {
	return s.write(ctx, "delete_record", func() error {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM phase_records WHERE session_id = ? AND kind = ?`, sessionID, string(kind)); err != nil {
			return fmt.Errorf("delete phase record: %w", err)
		}
		return nil
	})
}

// DeleteRecords removes every phase record of a session.
func (s *SQLiteStore) DeleteRecords(ctx context.Context, sessionID string) error {
	return s.write(ctx, "delete_records", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM phase_records WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete phase records: %w", err)
		}
		return nil
	})
}

// CreatePlan stores doc under the user's next social_skills_NN id.
func (s *SQLiteStore) CreatePlan(ctx context.Context, userID, sessionID string, doc *domain.PlanDocument) (string, error) {
	var docID string
	err := s.write(ctx, "create_plan", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var seq int
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) + 1 FROM plan_documents WHERE user_id = ?`, userID,
			).Scan(&seq); err != nil {
				return fmt.Errorf("next plan number: %w", err)
			}
			docID = fmt.Sprintf("%s_%02d", PlanPrefix, seq)

			stored := *doc
			stored.ID = docID
			body, err := json.Marshal(&stored)
			if err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO plan_documents (user_id, doc_id, seq, session_id, doc_json, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				userID, docID, seq, sessionID, string(body), s.now().Unix(),
			); err != nil {
				return fmt.Errorf("insert plan: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return docID, nil
}

// GetPlan retrieves a plan document.
func (s *SQLiteStore) GetPlan(ctx context.Context, userID, docID string) (*domain.PlanDocument, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_json FROM plan_documents WHERE user_id = ? AND doc_id = ?`, userID, docID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan row: %w", err)
	}
	var doc domain.PlanDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", docID, err)
	}
	return &doc, nil
}

// SaveDocument stores doc as JSON under (sessionID, category, docID).
func (s *SQLiteStore) SaveDocument(ctx context.Context, sessionID, category, docID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	query := `
	INSERT INTO session_documents (session_id, category, doc_id, body_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, category, doc_id) DO UPDATE SET
		body_json = excluded.body_json,
		updated_at = excluded.updated_at`

	return s.write(ctx, "save_document", func() error {
		if _, err := s.db.ExecContext(ctx, query, sessionID, category, docID, string(body), s.now().Unix()); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		return nil
	})
}

// GetDocument returns a stored document body.
func (s *SQLiteStore) GetDocument(ctx context.Context, sessionID, category, docID string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body_json FROM session_documents WHERE session_id = ? AND category = ? AND doc_id = ?`,
		sessionID, category, docID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document row: %w", err)
	}
	return json.RawMessage(body), nil
}

// write serializes op behind the write mutex and retries SQLite conflicts.
func (s *SQLiteStore) write(ctx context.Context, name string, op func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, name, shared.DefaultConflictAttempts, op)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

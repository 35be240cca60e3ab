// Package coach implements the checkpoint-gated conversation orchestrator:
// fact extraction, context assembly, the completion gate, structured record
// extraction, and phase transitions.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/domain"
	"github.com/ashureev/coach-labs/internal/metrics"
	"github.com/ashureev/coach-labs/internal/records"
	"github.com/ashureev/coach-labs/internal/session"
)

// Document sink categories.
const (
	CategoryPhaseRecords = "phase_records"
	CategoryPlans        = "plans"
)

// AnonymousUser owns sessions created without a user id.
const AnonymousUser = "anonymous"

// Options tunes window sizes, timeouts and auto-advance.
type Options struct {
	FactWindow        int
	ContextWindow     int
	HistoryWindow     int
	ExtractionWindow  int
	RecentFacts       int
	GenerationTimeout time.Duration
	ExtractionTimeout time.Duration
	AutoAdvance       bool
}

// DefaultOptions returns the standard windows: facts from the last 6
// messages, context from 8, generator history of 10, extraction over 15.
func DefaultOptions() Options {
	return Options{
		FactWindow:        6,
		ContextWindow:     8,
		HistoryWindow:     10,
		ExtractionWindow:  15,
		RecentFacts:       5,
		GenerationTimeout: 60 * time.Second,
		ExtractionTimeout: 90 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator. Records, Sink, Locker,
// Metrics, Logger, Now and NewID are optional.
type Deps struct {
	Catalog    *catalog.Catalog
	Sessions   session.Store
	Locker     *session.Locker
	Text       TextGenerator
	Structured StructuredGenerator
	Records    PhaseRecordStore
	Plans      PlanStore
	Sink       DocumentSink
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// Orchestrator owns session state transitions. All mutations of a session
// happen under its per-session lock and are committed only after the
// generator call for the operation has succeeded.
type Orchestrator struct {
	catalog   *catalog.Catalog
	machine   *Machine
	sessions  session.Store
	locks     *session.Locker
	text      TextGenerator
	extractor *Extractor
	records   PhaseRecordStore
	plans     PlanStore
	sink      DocumentSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	opts      Options
}

// New validates deps and returns an Orchestrator.
func New(d Deps, opts Options) (*Orchestrator, error) {
	switch {
	case d.Catalog == nil:
		return nil, errors.New("coach: catalog is required")
	case d.Sessions == nil:
		return nil, errors.New("coach: session store is required")
	case d.Text == nil:
		return nil, errors.New("coach: text generator is required")
	case d.Structured == nil:
		return nil, errors.New("coach: structured generator is required")
	case d.Plans == nil:
		return nil, errors.New("coach: plan store is required")
	}

	def := DefaultOptions()
	if opts.FactWindow <= 0 {
		opts.FactWindow = def.FactWindow
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = def.ContextWindow
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	if opts.ExtractionWindow <= 0 {
		opts.ExtractionWindow = def.ExtractionWindow
	}
	if opts.RecentFacts <= 0 {
		opts.RecentFacts = def.RecentFacts
	}

	o := &Orchestrator{
		catalog:  d.Catalog,
		machine:  NewMachine(d.Catalog.Len()),
		sessions: d.Sessions,
		locks:    d.Locker,
		text:     d.Text,
		records:  d.Records,
		plans:    d.Plans,
		sink:     d.Sink,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
		newID:    d.NewID,
		opts:     opts,
	}
	if o.locks == nil {
		o.locks = session.NewLocker()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	o.extractor = NewExtractor(d.Structured, opts.ExtractionWindow, opts.ExtractionTimeout, o.logger)
	return o, nil
}

// Catalog returns the phase catalog in use.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// TurnRequest is one inbound user message. An empty SessionID starts a new
// session with a generated id.
type TurnRequest struct {
	SessionID string
	UserID    string
	Message   string
}

// TurnResult reports the outcome of a turn. ExtractionErr and PersistErr
// describe failures that did not block the conversational part of the turn.
type TurnResult struct {
	SessionID       string                    `json:"session_id"`
	Reply           string                    `json:"response"`
	Phase           int                       `json:"phase"`
	PhaseName       string                    `json:"phase_name"`
	CheckpointIndex int                       `json:"current_checkpoint"`
	CheckpointTotal int                       `json:"checkpoint_total"`
	TurnCount       int                       `json:"turn_count"`
	PhaseComplete   bool                      `json:"phase_complete"`
	Record          domain.Record             `json:"structured_data"`
	Progress        domain.CheckpointProgress `json:"checkpoint_progress"`
	Transition      *TransitionResult         `json:"transition,omitempty"`
	ExtractionErr   error                     `json:"-"`
	PersistErr      error                     `json:"-"`
}

// HandleTurn applies one user message to its session: facts are extracted,
// instructions assembled, the reply generated, the checkpoint advanced on the
// reply's signal, and the phase record extracted once the gate opens.
//
// A generation failure or timeout returns an error and leaves the session
// exactly as it was.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	started := o.now()
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	id := req.SessionID
	if id == "" {
		id = o.newID()
	}

	unlock, err := o.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	sess, err := o.loadOrCreate(ctx, id, req.UserID)
	if err != nil {
		return nil, err
	}
	// The turn goes on without stored records; the failure is reported.
	recordsErr := o.mergeStoredRecords(ctx, sess)
	phaseLabel := strconv.Itoa(sess.Phase)
	if sess.ProgramComplete {
		o.metrics.ObserveTurn(phaseLabel, "rejected", started)
		return nil, ErrProgramComplete
	}
	phase, err := o.catalog.Phase(sess.Phase)
	if err != nil {
		return nil, err
	}

	now := o.now()
	work := sess.Clone()
	work.Append(domain.RoleUser, message, now)
	work.TurnCount++
	work.UpdatedAt = now

	progress := ExtractFacts(phase, work.RecentMessages(o.opts.FactWindow), work.CheckpointIndex)
	instructions := AssembleContext(ContextInput{
		Persona:         o.catalog.Persona,
		Phases:          o.catalog.Phases,
		Phase:           phase,
		CheckpointIndex: work.CheckpointIndex,
		TurnCount:       work.TurnCount,
		Transcript:      work.RecentMessages(o.opts.ContextWindow),
		Progress:        progress,
		Records:         work.Records,
		RecentFacts:     o.opts.RecentFacts,
	})

	reply, err := o.generateReply(ctx, instructions, work.RecentMessages(o.opts.HistoryWindow))
	if err != nil {
		outcome := "generation_error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		o.metrics.ObserveTurn(phaseLabel, outcome, started)
		o.logger.Warn("Reply generation failed",
			"session_id", id,
			"phase", sess.Phase,
			"checkpoint", sess.CheckpointIndex,
			"error", err)
		return nil, err
	}

	work.Append(domain.RoleAssistant, reply.Text, o.now())
	if reply.CheckpointComplete && work.CheckpointIndex < len(phase.Checkpoints) {
		work.CheckpointIndex++
		progress.CurrentCheckpoint = work.CheckpointIndex
	}
	work.Progress = progress

	result := &TurnResult{
		SessionID:  id,
		Reply:      reply.Text,
		Progress:   progress,
		PersistErr: recordsErr,
	}

	// The gate reads the completion map computed at the start of the turn.
	result.PhaseComplete = PhaseComplete(phase, progress.CompletedCheckpoints)
	if result.PhaseComplete && !work.Records.Has(phase.Output) {
		rec, raw, err := o.extractRecord(ctx, work, phase)
		if err != nil {
			result.ExtractionErr = err
		} else {
			result.Record = rec
			result.PersistErr = errors.Join(result.PersistErr, o.storeRecord(ctx, work, phase, rec, raw))
			if o.opts.AutoAdvance {
				result.Transition = o.autoAdvance(work, phase)
			}
		}
	}

	if err := o.sessions.Put(ctx, work); err != nil {
		o.countPersistFailure("put_session")
		o.logger.Error("Failed to persist session", "session_id", id, "error", err)
		result.PersistErr = errors.Join(result.PersistErr, &PersistenceError{Op: "put_session", Err: err})
	}

	o.fillPosition(result, work)
	o.metrics.ObserveTurn(phaseLabel, "ok", started)
	o.logger.Info("Turn processed",
		"session_id", id,
		"phase", work.Phase,
		"checkpoint", work.CheckpointIndex,
		"turn", work.TurnCount,
		"phase_complete", result.PhaseComplete,
		"record", result.Record != nil)
	return result, nil
}

func (o *Orchestrator) generateReply(ctx context.Context, instructions string, history []domain.Message) (Reply, error) {
	if o.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.GenerationTimeout)
		defer cancel()
	}
	reply, err := o.text.Generate(ctx, instructions, history)
	if err != nil {
		o.countGenerationError("text")
		return Reply{}, &GenerationError{Op: "reply", Err: err}
	}
	if strings.TrimSpace(reply.Text) == "" {
		o.countGenerationError("text")
		return Reply{}, &GenerationError{Op: "reply", Err: errors.New("empty reply")}
	}
	return reply, nil
}

// extractRecord runs the structured extractor for phase over work's log.
func (o *Orchestrator) extractRecord(ctx context.Context, work *domain.Session, phase catalog.Phase) (domain.Record, json.RawMessage, error) {
	kind := string(phase.Output)
	rec, raw, err := o.extractor.Extract(ctx, phase, work.Messages, work.Records)
	if err != nil {
		outcome := "generation_error"
		var sve *SchemaValidationError
		if errors.As(err, &sve) {
			outcome = "schema_error"
		} else {
			o.countGenerationError("structured")
		}
		o.countExtraction(kind, outcome)
		o.logger.Warn("Structured extraction failed",
			"session_id", work.ID,
			"phase", phase.Ordinal,
			"kind", kind,
			"error", err)
		return nil, nil, err
	}
	o.countExtraction(kind, "ok")
	return rec, raw, nil
}

// storeRecord sets rec on work and writes it to the record store and sink.
// Write failures are returned but the record stays in the session.
func (o *Orchestrator) storeRecord(ctx context.Context, work *domain.Session, phase catalog.Phase, rec domain.Record, raw json.RawMessage) error {
	kind := string(phase.Output)
	work.Records.Set(rec)

	var persistErr error
	if o.records != nil {
		if err := o.records.SaveRecord(ctx, work.ID, phase.Output, raw); err != nil {
			o.countPersistFailure("save_record")
			o.logger.Error("Failed to persist phase record", "session_id", work.ID, "kind", kind, "error", err)
			persistErr = &PersistenceError{Op: "save_record", Err: err}
		}
	}
	if o.sink != nil {
		if err := o.sink.SaveDocument(ctx, work.ID, CategoryPhaseRecords, kind, rec); err != nil {
			o.countPersistFailure("save_document")
			o.logger.Error("Failed to write phase record document", "session_id", work.ID, "kind", kind, "error", err)
			persistErr = errors.Join(persistErr, &PersistenceError{Op: "save_document", Err: err})
		}
	}
	o.logger.Info("Phase record stored", "session_id", work.ID, "phase", phase.Ordinal, "kind", kind)
	return persistErr
}

// loadOrCreate returns the stored session, or a new one positioned at the
// first phase.
func (o *Orchestrator) loadOrCreate(ctx context.Context, id, userID string) (*domain.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "get_session", Err: err}
	}
	if sess == nil {
		if userID == "" {
			userID = AnonymousUser
		}
		sess = domain.NewSession(id, userID, o.catalog.First(), o.now())
		o.logger.Info("Session created", "session_id", id, "user_id", userID)
	}
	return sess, nil
}

// mergeStoredRecords fills records missing from sess with the stored ones of
// phases it has reached.
func (o *Orchestrator) mergeStoredRecords(ctx context.Context, sess *domain.Session) error {
	if o.records == nil || len(sess.Records.Missing()) == 0 {
		return nil
	}
	stored, err := o.records.LoadPriorRecords(ctx, sess.ID)
	if err != nil {
		o.countPersistFailure("load_records")
		o.logger.Warn("Failed to load stored phase records", "session_id", sess.ID, "error", err)
		return &PersistenceError{Op: "load_records", Err: err}
	}
	for kind, raw := range stored {
		if sess.Records.Has(kind) {
			continue
		}
		p, err := o.catalog.PhaseForKind(kind)
		if err != nil || p.Ordinal > sess.Phase {
			continue
		}
		rec, err := records.Decode(kind, raw)
		if err != nil {
			o.logger.Warn("Ignoring invalid stored phase record", "session_id", sess.ID, "kind", kind, "error", err)
			continue
		}
		sess.Records.Set(rec)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "get_session", Err: err}
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if err := o.mergeStoredRecords(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (o *Orchestrator) fillPosition(result *TurnResult, sess *domain.Session) {
	result.Phase = sess.Phase
	result.CheckpointIndex = sess.CheckpointIndex
	result.TurnCount = sess.TurnCount
	if p, err := o.catalog.Phase(sess.Phase); err == nil {
		result.PhaseName = p.Name
		result.CheckpointTotal = len(p.Checkpoints)
	}
}

func (o *Orchestrator) countGenerationError(kind string) {
	if o.metrics != nil {
		o.metrics.GenerationErrors.WithLabelValues(kind).Inc()
	}
}

func (o *Orchestrator) countExtraction(kind, outcome string) {
	if o.metrics != nil {
		o.metrics.ExtractionsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

func (o *Orchestrator) countPersistFailure(op string) {
	if o.metrics != nil {
		o.metrics.PersistenceFailures.WithLabelValues(op).Inc()
	}
}

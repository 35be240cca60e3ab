package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/coach-labs/internal/agent"
	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/identity"
	"github.com/ashureev/coach-labs/internal/metrics"
)

const maxRequestBodySize = 64 << 10

// Coach is the orchestrator surface served over HTTP.
type Coach interface {
	HandleTurn(ctx context.Context, req coach.TurnRequest) (*coach.TurnResult, error)
	Transition(ctx context.Context, sessionID string) (*coach.TransitionResult, error)
	CompleteProgram(ctx context.Context, sessionID string) (*coach.TransitionResult, error)
	RetryExtraction(ctx context.Context, sessionID string) (*coach.ExtractionResult, error)
	RedoPhase(ctx context.Context, sessionID string) (*coach.TransitionResult, error)
	Reset(ctx context.Context, sessionID string) error
	Snapshot(ctx context.Context, sessionID string) (*coach.Snapshot, error)
	Export(ctx context.Context, sessionID string) (*coach.Export, error)
	Debug(ctx context.Context, sessionID string) (*coach.Debug, error)
	Catalog() *catalog.Catalog
}

var _ Coach = (*coach.Orchestrator)(nil)

// CoachHandler serves the coaching endpoints.
type CoachHandler struct {
	coach   Coach
	limiter *RateLimiter
	log     agent.ConversationLogger
	conns   *connRegistry
	metrics *metrics.Metrics
	logger  *slog.Logger

	originPatterns []string
}

// CoachHandlerConfig holds the optional collaborators of a CoachHandler.
type CoachHandlerConfig struct {
	Limiter            *RateLimiter
	ConversationLogger agent.ConversationLogger
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
	// OriginPatterns lists cross-origin hosts allowed to open /ws/coach.
	// Same-origin requests are always accepted.
	OriginPatterns []string
}

// NewCoachHandler creates a handler for c.
func NewCoachHandler(c Coach, cfg CoachHandlerConfig) *CoachHandler {
	h := &CoachHandler{
		coach:   c,
		limiter: cfg.Limiter,
		log:     cfg.ConversationLogger,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,

		originPatterns: cfg.OriginPatterns,
	}
	if h.log == nil {
		h.log = agent.NoopConversationLogger()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.conns = newConnRegistry(h.logger)
	return h
}

// RegisterRoutes registers coach routes.
func (h *CoachHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/coach", func(r chi.Router) {
		r.Get("/catalog", h.GetCatalog)
		r.Post("/chat", h.Chat)
		r.Post("/transition", h.Transition)
		r.Post("/complete", h.Complete)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.ResetSession)
			r.Get("/export", h.ExportSession)
			r.Get("/debug", h.DebugSession)
			r.Post("/extract", h.RetryExtraction)
			r.Post("/redo", h.RedoPhase)
		})
	})
	r.Get("/ws/coach", h.ServeWS)
}

// ChatRequest is the body of POST /api/coach/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// SessionRequest is the body of the transition endpoints.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// TurnResponse is a turn result plus its non-blocking failures.
type TurnResponse struct {
	*coach.TurnResult
	ExtractionError string `json:"extraction_error,omitempty"`
	PersistError    string `json:"persist_error,omitempty"`
}

// ExtractionResponse is a retried extraction plus its non-blocking failure.
type ExtractionResponse struct {
	*coach.ExtractionResult
	PersistError string `json:"persist_error,omitempty"`
}

func newTurnResponse(res *coach.TurnResult) TurnResponse {
	return TurnResponse{
		TurnResult:      res,
		ExtractionError: errString(res.ExtractionErr),
		PersistError:    errString(res.PersistErr),
	}
}

// GetCatalog returns the phase catalog.
func (h *CoachHandler) GetCatalog(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.coach.Catalog())
}

// Chat processes one user message.
func (h *CoachHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}
	if req.SessionID != "" && !identity.ValidSessionID(req.SessionID) {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	res, err := h.turn(r.Context(), "chat_http", userID, req, chiMiddleware.GetReqID(r.Context()))
	if err != nil {
		writeCoachError(w, err)
		return
	}
	JSON(w, http.StatusOK, newTurnResponse(res))
}

// turn runs a chat turn and records both sides in the conversation log.
func (h *CoachHandler) turn(ctx context.Context, channel, userID string, req ChatRequest, reqID string) (*coach.TurnResult, error) {
	h.logger.Info("Coach chat request",
		"user_id", userID,
		"session_id", req.SessionID,
		"channel", channel,
		"message_length", len(req.Message))

	res, err := h.coach.HandleTurn(ctx, coach.TurnRequest{
		SessionID: req.SessionID,
		UserID:    userID,
		Message:   req.Message,
	})
	if err != nil {
		h.logger.Warn("Coach turn failed", "user_id", userID, "session_id", req.SessionID, "error", err)
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	h.log.Log(agent.ConversationLogEvent{
		Timestamp:  now,
		UserID:     userID,
		SessionID:  res.SessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta:       map[string]any{"request_id": reqID},
	})
	h.log.Log(agent.ConversationLogEvent{
		Timestamp:  now,
		UserID:     userID,
		SessionID:  res.SessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "coach_reply",
		ContentRaw: res.Reply,
		Meta: map[string]any{
			"request_id":     reqID,
			"phase":          res.Phase,
			"checkpoint":     res.CheckpointIndex,
			"phase_complete": res.PhaseComplete,
			"record":         res.Record != nil,
		},
	})
	if res.Transition != nil {
		h.logTransition(channel, userID, res.Transition)
	}
	return res, nil
}

func (h *CoachHandler) logTransition(channel, userID string, t *coach.TransitionResult) {
	h.log.Log(agent.ConversationLogEvent{
		UserID:     userID,
		SessionID:  t.SessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "phase_transition",
		ContentRaw: t.IntroText,
		Meta: map[string]any{
			"old_phase":        t.OldPhase,
			"new_phase":        t.NewPhase,
			"program_complete": t.ProgramComplete,
			"course_id":        t.FinalDocumentID,
		},
	})
}

// Transition moves a session to its next phase.
func (h *CoachHandler) Transition(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, h.coach.Transition)
}

// Complete finalizes a session's program.
func (h *CoachHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, h.coach.CompleteProgram)
}

func (h *CoachHandler) signal(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*coach.TransitionResult, error)) {
	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := op(r.Context(), req.SessionID)
	if err != nil {
		writeCoachError(w, err)
		return
	}
	h.logTransition("chat_http", identity.UserIDFromContext(r.Context()), res)
	JSON(w, http.StatusOK, res)
}

// GetSession returns a session snapshot.
func (h *CoachHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.coach.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoachError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// ExportSession returns the full transcript and records of a session.
func (h *CoachHandler) ExportSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.coach.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoachError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// DebugSession returns a compact diagnostic view of a session.
func (h *CoachHandler) DebugSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.coach.Debug(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoachError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// ResetSession deletes a session and its records and closes its live connection.
func (h *CoachHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coach.Reset(r.Context(), id); err != nil {
		writeCoachError(w, err)
		return
	}
	h.conns.Close(id, "session reset")
	JSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": id})
}

// RetryExtraction re-runs the pending structured extraction of a session.
func (h *CoachHandler) RetryExtraction(w http.ResponseWriter, r *http.Request) {
	res, err := h.coach.RetryExtraction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoachError(w, err)
		return
	}
	JSON(w, http.StatusOK, ExtractionResponse{ExtractionResult: res, PersistError: errString(res.PersistErr)})
}

// RedoPhase restarts the active phase of a session.
func (h *CoachHandler) RedoPhase(w http.ResponseWriter, r *http.Request) {
	res, err := h.coach.RedoPhase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoachError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Close closes every open WebSocket connection.
func (h *CoachHandler) Close() {
	h.conns.CloseAll("server shutting down")
}

func (h *CoachHandler) allow(userID string) bool {
	if h.limiter == nil || h.limiter.Allow(userID) {
		return true
	}
	if h.metrics != nil {
		h.metrics.RateLimited.Inc()
	}
	h.logger.Warn("Coach chat rate limited", "user_id", userID)
	return false
}

// decodeBody decodes a size-limited JSON body, writing the error response on
// failure. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}

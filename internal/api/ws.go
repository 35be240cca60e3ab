package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/ashureev/coach-labs/internal/identity"
)

// connRegistry tracks the live WebSocket connection of each coaching session.
// A session has at most one connection; a newer one replaces the older.
type connRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

func newConnRegistry(logger *slog.Logger) *connRegistry {
	return &connRegistry{
		active: make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register binds conn to sessionID, closing any connection it replaces.
func (m *connRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[sessionID] = conn
	m.logger.Debug("Coach connection registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the session's connection.
func (m *connRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		m.logger.Debug("Coach connection unregistered", "session_id", sessionID)
	}
}

// Close terminates the session's connection, if any.
func (m *connRegistry) Close(sessionID, reason string) {
	m.mu.Lock()
	conn, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
		m.logger.Info("Coach connection closed", "session_id", sessionID, "reason", reason)
	}
}

// CloseAll terminates every connection.
func (m *connRegistry) CloseAll(reason string) {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[string]*websocket.Conn)
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
	}
}

// Len returns the number of registered connections.
func (m *connRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// wsRequest is a client frame on /ws/coach.
type wsRequest struct {
	Type      string `json:"type"` // "chat", "transition", "complete", "ping"
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// wsResponse is a server frame on /ws/coach. ID echoes the request's id.
type wsResponse struct {
	Type  string     `json:"type"` // "turn", "transition", "pong", "error"
	ID    string     `json:"id,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ServeWS upgrades to a WebSocket carrying chat turns and transitions as
// JSON frames. Frames are handled in order, one at a time.
func (h *CoachHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}

	h.logger.Info("Coach WebSocket connected", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ctx := r.Context()
	bound := ""
	bind := func(id string) {
		if id == "" || id == bound {
			return
		}
		if bound != "" {
			h.conns.Unregister(bound, ws)
		}
		bound = id
		h.conns.Register(id, ws)
	}
	defer func() {
		if bound != "" {
			h.conns.Unregister(bound, ws)
		}
	}()
	bind(sessionID)

	for {
		var req wsRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("Coach WebSocket closed", "user_id", userID, "session_id", bound)
			} else {
				h.logger.Warn("Coach WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		if req.SessionID == "" {
			req.SessionID = bound
		}

		resp := h.dispatchWS(ctx, userID, req)
		if resp.Type == "turn" {
			if res, ok := resp.Data.(TurnResponse); ok {
				bind(res.SessionID)
			}
		}
		if err := wsjson.Write(ctx, ws, resp); err != nil {
			h.logger.Debug("Coach WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *CoachHandler) dispatchWS(ctx context.Context, userID string, req wsRequest) wsResponse {
	resp := wsResponse{ID: req.ID}
	fail := func(err error) wsResponse {
		_, body := classifyError(err)
		resp.Type = "error"
		resp.Error = &body
		return resp
	}

	switch req.Type {
	case "ping":
		resp.Type = "pong"
		return resp
	case "chat":
		if !h.allow(userID) {
			resp.Type = "error"
			resp.Error = &ErrorBody{Error: "rate_limited", Message: "rate limit exceeded"}
			return resp
		}
		if req.SessionID != "" && !identity.ValidSessionID(req.SessionID) {
			resp.Type = "error"
			resp.Error = &ErrorBody{Error: "bad_request", Message: "invalid session_id"}
			return resp
		}
		res, err := h.turn(ctx, "chat_ws", userID, ChatRequest{SessionID: req.SessionID, Message: req.Message}, uuid.NewString())
		if err != nil {
			return fail(err)
		}
		resp.Type = "turn"
		resp.Data = newTurnResponse(res)
		return resp
	case "transition", "complete":
		if req.SessionID == "" {
			resp.Type = "error"
			resp.Error = &ErrorBody{Error: "bad_request", Message: "session_id is required"}
			return resp
		}
		op := h.coach.Transition
		if req.Type == "complete" {
			op = h.coach.CompleteProgram
		}
		res, err := op(ctx, req.SessionID)
		if err != nil {
			return fail(err)
		}
		h.logTransition("chat_ws", userID, res)
		resp.Type = "transition"
		resp.Data = res
		return resp
	}

	resp.Type = "error"
	resp.Error = &ErrorBody{Error: "bad_request", Message: "unknown message type " + req.Type}
	return resp
}

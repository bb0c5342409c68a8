package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/internal/session"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// CreateSessionRequest starts a session and runs its first prompt.
type CreateSessionRequest struct {
	Prompt           string             `json:"prompt"`
	Model            string             `json:"model,omitempty"`
	WorkingDirectory string             `json:"workingDirectory,omitempty"`
	Attachments      []types.Attachment `json:"attachments,omitempty"`
}

// SessionInfo describes a session held in memory.
type SessionInfo struct {
	ID                string                   `json:"id"`
	Status            types.SessionStatus      `json:"status"`
	WorkingDirectory  string                   `json:"workingDirectory"`
	Model             string                   `json:"model,omitempty"`
	PendingPermission *types.PermissionRequest `json:"pendingPermission,omitempty"`
	Diffs             []types.FileDiff         `json:"diffs"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.AllSessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []types.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
// The response streams the first request cycle like sendMessage.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt is required")
		return
	}

	ref, err := s.sessions.CreateSession(r.Context(), req.Prompt, session.Options{
		Model:            req.Model,
		WorkingDirectory: req.WorkingDirectory,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer ref.Release()

	s.run(w, r, ref, req.Prompt, req.Attachments, req.Model)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer ref.Release()

	model, err := ref.SelectedModelID(r.Context())
	if err != nil {
		s.log.Debug().Err(err).Str("session", ref.ID()).Msg("selected model unavailable")
	}

	diffs := ref.Diffs()
	if diffs == nil {
		diffs = []types.FileDiff{}
	}
	writeJSON(w, http.StatusOK, SessionInfo{
		ID:                ref.ID(),
		Status:            ref.Status(),
		WorkingDirectory:  ref.WorkingDirectory(),
		Model:             model,
		PendingPermission: ref.PendingPermission(),
		Diffs:             diffs,
	})
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.prompter.ClearSession(sessionID)
	writeSuccess(w)
}

// acquire resolves the sessionID URL parameter. On failure the response has
// been written. Callers must Release the returned session.
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) (*session.RefCounted, bool) {
	sessionID := chi.URLParam(r, "sessionID")

	ref, err := s.sessions.GetSession(r.Context(), sessionID, session.Options{})
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if ref == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return nil, false
	}
	return ref, true
}

// writeServiceError maps session service errors to responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionDisposed):
		writeError(w, http.StatusGone, ErrCodeGone, err.Error())
	case errors.Is(err, session.ErrServiceClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, runtime.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

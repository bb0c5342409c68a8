package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/cliagent/internal/permission"
)

// PermissionReplyRequest answers a waiting permission prompt.
type PermissionReplyRequest struct {
	Reply permission.Reply `json:"reply"` // "once" | "always" | "reject"
}

// listPermissions handles GET /permission
// An optional sessionID query parameter narrows the list to one session.
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	prompts := s.prompter.Prompts(r.URL.Query().Get("sessionID"))
	if prompts == nil {
		prompts = []permission.Prompt{}
	}
	writeJSON(w, http.StatusOK, prompts)
}

// replyPermission handles POST /permission/{promptID}
func (s *Server) replyPermission(w http.ResponseWriter, r *http.Request) {
	promptID := chi.URLParam(r, "promptID")

	var req PermissionReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	switch req.Reply {
	case permission.ReplyOnce, permission.ReplyAlways, permission.ReplyReject:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "reply must be once, always or reject")
		return
	}

	if !s.prompter.Respond(promptID, req.Reply) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Permission request not found")
		return
	}
	writeSuccess(w)
}

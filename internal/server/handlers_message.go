package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/opencode-ai/cliagent/internal/session"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// SendMessageRequest runs one request cycle on an existing session.
type SendMessageRequest struct {
	Prompt      string             `json:"prompt"`
	Model       string             `json:"model,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

// NoteRequest appends a synthetic message to the session history.
type NoteRequest struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// StreamChunk is one line of a streamed request cycle. Type is "session"
// first, then a response part type per part, then "status" or "error".
type StreamChunk struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionID,omitempty"`
	Status    types.SessionStatus `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
	Part      types.ResponsePart  `json:"part,omitempty"`
}

// TurnResponse is the JSON form of a history turn.
type TurnResponse struct {
	Type       string             `json:"type"`
	Prompt     string             `json:"prompt,omitempty"`
	References []types.Attachment `json:"references,omitempty"`
	Parts      []PartResponse     `json:"parts,omitempty"`
}

// PartResponse tags a response part with its type.
type PartResponse struct {
	Type string             `json:"type"`
	Part types.ResponsePart `json:"part"`
}

// sendMessage handles POST /session/{sessionID}/message
// This is a streaming endpoint that returns newline-delimited JSON.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt is required")
		return
	}

	ref, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer ref.Release()

	s.run(w, r, ref, req.Prompt, req.Attachments, req.Model)
}

// run streams one request cycle of ref to w. Permission requests wait for
// replies on /permission while the cycle runs.
func (s *Server) run(w http.ResponseWriter, r *http.Request, ref *session.RefCounted, prompt string, attachments []types.Attachment, model string) {
	stream, err := newPartStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	stream.write(StreamChunk{Type: "session", SessionID: ref.ID()})

	defer ref.AttachStream(stream)()
	defer ref.AttachPermissionHandler(s.prompter.Handler(ref.ID()))()

	if err := ref.HandleRequest(r.Context(), prompt, attachments, model); err != nil {
		stream.write(StreamChunk{Type: "error", Error: err.Error()})
		return
	}
	stream.write(StreamChunk{Type: "status", Status: ref.Status()})
}

// addNote handles POST /session/{sessionID}/note
func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}
	if req.Role != "user" && req.Role != "assistant" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "role must be user or assistant")
		return
	}

	ref, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer ref.Release()

	var err error
	if req.Role == "user" {
		err = ref.AddUserMessage(r.Context(), req.Content)
	} else {
		err = ref.AddUserAssistantMessage(r.Context(), req.Content)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// getHistory handles GET /session/{sessionID}/history
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer ref.Release()

	turns, err := ref.ChatHistory(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeTurns(turns))
}

// getDiff handles GET /session/{sessionID}/diff
func (s *Server) getDiff(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer ref.Release()

	diffs := ref.Diffs()
	if diffs == nil {
		diffs = []types.FileDiff{}
	}
	writeJSON(w, http.StatusOK, diffs)
}

func encodeTurns(turns []types.Turn) []TurnResponse {
	out := make([]TurnResponse, 0, len(turns))
	for _, turn := range turns {
		switch t := turn.(type) {
		case *types.RequestTurn:
			out = append(out, TurnResponse{Type: t.TurnType(), Prompt: t.Prompt, References: t.References})
		case *types.ResponseTurn:
			parts := make([]PartResponse, 0, len(t.Parts))
			for _, p := range t.Parts {
				parts = append(parts, PartResponse{Type: p.PartType(), Part: p})
			}
			out = append(out, TurnResponse{Type: t.TurnType(), Parts: parts})
		}
	}
	return out
}

// partStream writes session output as JSON lines, flushing after each.
type partStream struct {
	mu  sync.Mutex
	enc *json.Encoder
	rc  *http.ResponseController
	err error
}

func newPartStream(w http.ResponseWriter) (*partStream, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &partStream{enc: json.NewEncoder(w), rc: http.NewResponseController(w)}, nil
}

func (p *partStream) Markdown(text string) {
	p.Push(&types.MarkdownPart{Value: text})
}

func (p *partStream) Push(part types.ResponsePart) {
	p.write(StreamChunk{Type: part.PartType(), Part: part})
}

// write drops chunks after the first failed write; the client is gone.
func (p *partStream) write(chunk StreamChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return
	}
	if p.err = p.enc.Encode(chunk); p.err != nil {
		return
	}
	p.err = p.rc.Flush()
}

package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/cliagent/pkg/types"
)

// Reply is an answer to a prompt.
type Reply string

const (
	ReplyOnce   Reply = "once"
	ReplyAlways Reply = "always"
	ReplyReject Reply = "reject"
)

// Prompt is a permission request waiting for a Reply.
type Prompt struct {
	ID         string                  `json:"id"`
	SessionID  string                  `json:"sessionID"`
	ToolCallID string                  `json:"toolCallId,omitempty"`
	Request    types.PermissionRequest `json:"request"`
}

// Prompter is a Handler backed by replies from another party, such as an
// HTTP client. Replying "always" approves later requests of the same kind
// (or the same shell command patterns) in that session without asking.
type Prompter struct {
	mu       sync.RWMutex
	prompts  map[string]Prompt
	replies  map[string]chan Reply       // prompt ID -> reply channel
	approved map[string]map[string]bool // sessionID -> kind or shell pattern -> approved
}

// NewPrompter creates an empty prompter.
func NewPrompter() *Prompter {
	return &Prompter{
		prompts:  make(map[string]Prompt),
		replies:  make(map[string]chan Reply),
		approved: make(map[string]map[string]bool),
	}
}

// Handler returns the Handler for one session.
func (p *Prompter) Handler(sessionID string) Handler {
	return func(ctx context.Context, req types.PermissionRequest, toolCallID string) (bool, error) {
		return p.ask(ctx, sessionID, req, toolCallID)
	}
}

func (p *Prompter) ask(ctx context.Context, sessionID string, req types.PermissionRequest, toolCallID string) (bool, error) {
	keys := approvalKeys(req)
	if p.isApproved(sessionID, keys) {
		return true, nil
	}

	prompt := Prompt{
		ID:         ulid.Make().String(),
		SessionID:  sessionID,
		ToolCallID: toolCallID,
		Request:    req,
	}
	ch := make(chan Reply, 1)

	p.mu.Lock()
	p.prompts[prompt.ID] = prompt
	p.replies[prompt.ID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.prompts, prompt.ID)
		delete(p.replies, prompt.ID)
		p.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case reply := <-ch:
		switch reply {
		case ReplyOnce:
			return true, nil
		case ReplyAlways:
			p.approve(sessionID, keys)
			return true, nil
		}
		return false, nil
	}
}

// Respond answers a waiting prompt. It returns false when no prompt with
// that ID is waiting.
func (p *Prompter) Respond(promptID string, reply Reply) bool {
	p.mu.RLock()
	ch, ok := p.replies[promptID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case ch <- reply:
		return true
	default:
		return false
	}
}

// Prompts returns the waiting prompts for a session, or for every session
// when sessionID is empty.
func (p *Prompter) Prompts(sessionID string) []Prompt {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Prompt
	for _, prompt := range p.prompts {
		if sessionID == "" || prompt.SessionID == sessionID {
			out = append(out, prompt)
		}
	}
	return out
}

// ClearSession forgets the "always" approvals of a session.
func (p *Prompter) ClearSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.approved, sessionID)
}

func (p *Prompter) isApproved(sessionID string, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	session := p.approved[sessionID]
	for _, k := range keys {
		if !session[k] {
			return false
		}
	}
	return true
}

func (p *Prompter) approve(sessionID string, keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.approved[sessionID] == nil {
		p.approved[sessionID] = make(map[string]bool)
	}
	for _, k := range keys {
		p.approved[sessionID][k] = true
	}
}

// approvalKeys returns what an "always" reply approves: the command patterns
// for shell requests and the kind otherwise.
func approvalKeys(req types.PermissionRequest) []string {
	if req.Kind != types.PermissionShell {
		return []string{string(req.Kind)}
	}
	line, err := ParseCommandLine(req.FullCommandText)
	if err != nil {
		return nil
	}
	return line.Patterns()
}

// AutoApprove is a Handler that approves everything.
func AutoApprove(context.Context, types.PermissionRequest, string) (bool, error) {
	return true, nil
}

// AutoDeny is a Handler that denies everything.
func AutoDeny(context.Context, types.PermissionRequest, string) (bool, error) {
	return false, nil
}

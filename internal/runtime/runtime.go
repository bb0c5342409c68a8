// Package runtime defines the agent runtime that owns session event logs and
// runs the model, and provides a local implementation backed by file
// storage and Eino chat models.
package runtime

import (
	"context"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// Options configure a runtime session.
type Options struct {
	// Model is a "provider/model" reference; empty selects the default.
	Model            string
	WorkingDirectory string
}

// AuthInfo describes the credentials the runtime uses for the model.
type AuthInfo struct {
	Provider      string `json:"provider"`
	Authenticated bool   `json:"authenticated"`
}

// PermissionFunc is asked before a tool call touches files or runs commands.
type PermissionFunc func(ctx context.Context, req types.PermissionRequest) types.PermissionResult

// Runtime manages persisted agent sessions.
type Runtime interface {
	CreateSession(ctx context.Context, opts Options) (AgentSession, error)
	// GetSession resumes a persisted session. It returns (nil, nil) when no
	// session with that id exists.
	GetSession(ctx context.Context, id string, opts Options) (AgentSession, error)
	ListSessions(ctx context.Context) ([]types.SessionMetadata, error)
	DeleteSession(ctx context.Context, id string) error
	// LoadEvents reads a session's event log without resuming it.
	LoadEvents(ctx context.Context, id string) ([]types.Event, error)
}

// ChangeNotifier is implemented by runtimes that can report sessions created
// or deleted outside this process.
type ChangeNotifier interface {
	OnDidChange(fn func(sessionID string)) (event.Subscription, error)
}

// AgentSession is one live runtime session. Event callbacks run
// synchronously in the order the runtime emits the events.
type AgentSession interface {
	ID() string

	OnUserMessage(fn func(*types.UserMessageData)) event.Subscription
	OnAssistantMessage(fn func(*types.AssistantMessageData)) event.Subscription
	OnToolExecutionStart(fn func(*types.ToolExecutionStartData)) event.Subscription
	OnToolExecutionComplete(fn func(*types.ToolExecutionCompleteData)) event.Subscription
	OnSessionError(fn func(*types.SessionErrorData)) event.Subscription

	// Send appends the prompt and runs the agent until it stops or ctx ends.
	Send(ctx context.Context, prompt string, attachments []types.Attachment) error

	SelectedModel(ctx context.Context) (string, error)
	SetSelectedModel(ctx context.Context, model string) error
	AuthInfo(ctx context.Context) (AuthInfo, error)

	// Events returns the full event log.
	Events(ctx context.Context) ([]types.Event, error)
	// Emit appends a synthetic event to the log and delivers it to listeners.
	Emit(ctx context.Context, ev types.Event) error

	SetPermissionHandler(fn PermissionFunc)
	Close() error
}

// Emitters holds the per-kind event emitters of a session and dispatches
// log events to them.
type Emitters struct {
	UserMessage           event.Emitter[*types.UserMessageData]
	AssistantMessage      event.Emitter[*types.AssistantMessageData]
	ToolExecutionStart    event.Emitter[*types.ToolExecutionStartData]
	ToolExecutionComplete event.Emitter[*types.ToolExecutionCompleteData]
	SessionError          event.Emitter[*types.SessionErrorData]
}

// Dispatch delivers ev to the emitter for its type.
func (e *Emitters) Dispatch(ev types.Event) {
	switch data := ev.Data.(type) {
	case *types.UserMessageData:
		e.UserMessage.Emit(data)
	case *types.AssistantMessageData:
		e.AssistantMessage.Emit(data)
	case *types.ToolExecutionStartData:
		e.ToolExecutionStart.Emit(data)
	case *types.ToolExecutionCompleteData:
		e.ToolExecutionComplete.Emit(data)
	case *types.SessionErrorData:
		e.SessionError.Emit(data)
	}
}

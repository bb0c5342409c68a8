package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/cliagent/internal/edit"
	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/history"
	"github.com/opencode-ai/cliagent/internal/logging"
	"github.com/opencode-ai/cliagent/internal/permission"
	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/internal/tool"
	"github.com/opencode-ai/cliagent/internal/vcs"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// ErrSessionDisposed is returned by HandleRequest on a closed session.
var ErrSessionDisposed = errors.New("session disposed")

// Stream receives the output of a request cycle.
type Stream interface {
	Markdown(text string)
	Push(part types.ResponsePart)
}

type sessionConfig struct {
	workingDirectory string
	isolation        bool
	workspace        *workspace.Folders
	policy           permission.Policy
	bus              *event.Bus
}

// Session drives one agent conversation. The same Session serves any number
// of request cycles; its status reflects the latest one.
type Session struct {
	agent   runtime.AgentSession
	cfg     sessionConfig
	broker  *permission.Broker
	tracker *edit.Tracker
	log     zerolog.Logger

	statusChanged event.Emitter[types.SessionStatus]

	mu       sync.Mutex
	status   types.SessionStatus
	stream   Stream
	streamID uint64
	requests map[uint64]context.CancelFunc
	nextReq  uint64
	disposed bool
}

func newSession(agent runtime.AgentSession, cfg sessionConfig) *Session {
	id := agent.ID()
	s := &Session{
		agent:    agent,
		cfg:      cfg,
		tracker:  edit.NewTracker(id, cfg.bus),
		log:      logging.Component("session").With().Str("session", id).Logger(),
		requests: make(map[uint64]context.CancelFunc),
	}
	s.broker = permission.NewBroker(permission.BrokerConfig{
		SessionID:        id,
		WorkingDirectory: cfg.workingDirectory,
		Isolation:        cfg.isolation,
		Workspace:        cfg.workspace,
		Policy:           cfg.policy,
		Tracker:          s.tracker,
		Bus:              cfg.bus,
		OnPendingChange: func(*types.PermissionRequest) {
			s.statusChanged.Emit(s.Status())
		},
	})
	agent.SetPermissionHandler(s.broker.Request)
	return s
}

// ID returns the runtime session id.
func (s *Session) ID() string { return s.agent.ID() }

// WorkingDirectory returns the directory the session's tools run in.
func (s *Session) WorkingDirectory() string { return s.cfg.workingDirectory }

// Status returns the status of the latest request cycle.
func (s *Session) Status() types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PendingPermission returns the permission request awaiting an answer.
func (s *Session) PendingPermission() *types.PermissionRequest {
	return s.broker.Pending()
}

// Disposed reports whether Close was called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// OnDidChangeStatus registers fn for status changes and for permission
// negotiations starting or ending.
func (s *Session) OnDidChangeStatus(fn func(types.SessionStatus)) event.Subscription {
	return s.statusChanged.Subscribe(fn)
}

// AttachStream directs request output to st. The last attach wins; the
// returned func detaches st if it is still attached.
func (s *Session) AttachStream(st Stream) (detach func()) {
	s.mu.Lock()
	s.streamID++
	id := s.streamID
	s.stream = st
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.streamID == id {
			s.stream = nil
		}
	}
}

// AttachPermissionHandler installs the approver for requests that cannot be
// decided automatically. The last attach wins.
func (s *Session) AttachPermissionHandler(h permission.Handler) (detach func()) {
	return s.broker.Attach(h)
}

// SelectedModelID returns the model the runtime uses for this session.
func (s *Session) SelectedModelID(ctx context.Context) (string, error) {
	return s.agent.SelectedModel(ctx)
}

// Diffs returns the file changes made by completed edits.
func (s *Session) Diffs() []types.FileDiff {
	return s.tracker.Diffs()
}

// HandleRequest sends prompt to the agent and streams the response. Agent
// failures end the cycle with StatusFailed and an error line on the stream;
// the only error returned is ErrSessionDisposed.
func (s *Session) HandleRequest(ctx context.Context, prompt string, attachments []types.Attachment, modelID string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSessionDisposed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.nextReq++
	reqID := s.nextReq
	s.requests[reqID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.requests, reqID)
		s.mu.Unlock()
		cancel()
	}()

	s.setStatus(types.StatusInProgress)

	subs := &event.Store{}
	defer subs.Close()
	s.subscribe(subs)

	if err := s.send(ctx, prompt, attachments, modelID); err != nil {
		s.log.Error().Err(err).Msg("request failed")
		s.markdown(fmt.Sprintf("\n\nError: %s", err))
		s.setStatus(types.StatusFailed)
		return nil
	}
	s.setStatus(types.StatusCompleted)
	return nil
}

func (s *Session) send(ctx context.Context, prompt string, attachments []types.Attachment, modelID string) error {
	var current string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.agent.AuthInfo(gctx)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		m, err := s.agent.SelectedModel(gctx)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		current = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if modelID != "" && modelID != current {
		if err := s.agent.SetSelectedModel(ctx, modelID); err != nil {
			return fmt.Errorf("switch model: %w", err)
		}
	}

	if err := s.agent.Send(ctx, prompt, attachments); err != nil {
		return err
	}

	if s.cfg.isolation && s.cfg.workingDirectory != "" {
		if err := vcs.StageAll(s.cfg.workingDirectory); err != nil {
			s.log.Warn().Err(err).Str("dir", s.cfg.workingDirectory).Msg("failed to stage changes")
		}
	}
	return nil
}

// subscribe wires the runtime events of one request cycle into subs.
func (s *Session) subscribe(subs *event.Store) {
	var mu sync.Mutex
	pending := tool.Pending{}
	edits := map[string]bool{}

	subs.Add(s.agent.OnAssistantMessage(func(data *types.AssistantMessageData) {
		if data.Content != "" {
			s.markdown(data.Content)
		}
	}))

	subs.Add(s.agent.OnToolExecutionStart(func(data *types.ToolExecutionStartData) {
		mu.Lock()
		defer mu.Unlock()

		if tool.IsEditTool(data.ToolName, data.Arguments) {
			edits[data.ToolCallID] = true
			s.broker.RecordEdit(tool.EditTarget(data.Arguments), data.ToolCallID)
			return
		}

		switch part := tool.ProcessStart(data, pending).(type) {
		case nil:
		case *types.ThinkingPart:
			s.push(part)
			s.push(&types.ThinkingPart{ID: part.ID, Done: true})
		default:
			s.push(part)
		}
	}))

	subs.Add(s.agent.OnToolExecutionComplete(func(data *types.ToolExecutionCompleteData) {
		mu.Lock()
		defer mu.Unlock()

		s.broker.ForgetEdit(data.ToolCallID)
		if diff, ok := s.tracker.CompleteEdit(data.ToolCallID); ok {
			s.log.Debug().Str("file", diff.Path).Int("additions", diff.Additions).Int("deletions", diff.Deletions).Msg("edit completed")
		}

		if edits[data.ToolCallID] {
			delete(edits, data.ToolCallID)
			return
		}
		if inv := tool.ProcessComplete(data, pending); inv != nil {
			s.push(inv)
		}
	}))

	subs.Add(s.agent.OnSessionError(func(data *types.SessionErrorData) {
		s.log.Error().Str("type", data.ErrorType).Msg(data.Message)
		s.markdown(fmt.Sprintf("\n\nError: %s", data.Message))
	}))
}

// AddUserMessage records a user message without running the agent.
func (s *Session) AddUserMessage(ctx context.Context, content string) error {
	return s.agent.Emit(ctx, types.NewUserMessage(content))
}

// AddUserAssistantMessage records an assistant message without running the
// agent.
func (s *Session) AddUserAssistantMessage(ctx context.Context, content string) error {
	return s.agent.Emit(ctx, types.NewAssistantMessage(content))
}

// AddPullRequest records an assistant message that references pr, followed
// by text.
func (s *Session) AddPullRequest(ctx context.Context, pr *types.PullRequestPart, text string) error {
	return s.agent.Emit(ctx, types.NewAssistantMessage(history.FormatPullRequest(pr)+text))
}

// ChatHistory rebuilds the transcript from the runtime event log.
func (s *Session) ChatHistory(ctx context.Context) ([]types.Turn, error) {
	events, err := s.agent.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return history.Build(events), nil
}

// Close aborts running requests and releases the runtime session. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	cancels := make([]context.CancelFunc, 0, len(s.requests))
	for _, cancel := range s.requests {
		cancels = append(cancels, cancel)
	}
	s.stream = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.agent.SetPermissionHandler(nil)
	return s.agent.Close()
}

func (s *Session) setStatus(status types.SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.statusChanged.Emit(status)
	if s.cfg.bus != nil {
		s.cfg.bus.Publish(event.Event{
			Type: event.SessionStatus,
			Data: event.SessionStatusData{SessionID: s.ID(), Status: status},
		})
	}
}

func (s *Session) markdown(text string) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		st.Markdown(text)
	}
}

func (s *Session) push(part types.ResponsePart) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		st.Push(part)
	}
}

// Package runtimetest provides a scripted in-memory runtime for tests.
package runtimetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// Script is run by Session.Send after the user message has been emitted.
type Script func(ctx context.Context, s *Session, prompt string) error

// Reply returns a script that answers with one assistant message.
func Reply(text string) Script {
	return func(ctx context.Context, s *Session, _ string) error {
		return s.EmitEvent(types.NewAssistantMessage(text))
	}
}

// Fail returns a script that fails with err.
func Fail(err error) Script {
	return func(context.Context, *Session, string) error { return err }
}

// Runtime is an in-memory runtime.Runtime.
type Runtime struct {
	// GetHook runs at the start of every GetSession call.
	GetHook func(ctx context.Context, id string)
	// LoadedHook runs after GetSession found a stored session, before it
	// returns.
	LoadedHook func(ctx context.Context, id string)
	// ListHook runs at the start of every ListSessions call.
	ListHook func(ctx context.Context)
	// NewScript is the script given to sessions the runtime creates.
	NewScript Script

	mu       sync.Mutex
	sessions map[string]*Session
	getCalls map[string]int
	loadErrs map[string]error
	deleted  []string
	listErr  error
	nextID   int
	lists    int
	now      int64
	onChange event.Emitter[string]
}

var (
	_ runtime.Runtime        = (*Runtime)(nil)
	_ runtime.ChangeNotifier = (*Runtime)(nil)
)

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		sessions: make(map[string]*Session),
		getCalls: make(map[string]int),
		loadErrs: make(map[string]error),
		now:      time.Now().UnixMilli(),
	}
}

// AddSession stores a persisted session with the given event log.
func (r *Runtime) AddSession(id string, events ...types.Event) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.newSession(id)
	s.persisted = true
	s.events = append(s.events, events...)
	r.sessions[id] = s
	return s
}

// Session returns the stored session with id.
func (r *Runtime) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// GetCalls returns how many times GetSession was called for id.
func (r *Runtime) GetCalls(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls[id]
}

// ListCalls returns how many times ListSessions was called.
func (r *Runtime) ListCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

// Deleted returns the ids passed to DeleteSession.
func (r *Runtime) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

// FailLoad makes LoadEvents fail for id.
func (r *Runtime) FailLoad(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErrs[id] = err
}

// FailList makes ListSessions fail.
func (r *Runtime) FailList(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listErr = err
}

// NotifyChange reports an external change to OnDidChange listeners.
func (r *Runtime) NotifyChange(id string) {
	r.onChange.Emit(id)
}

func (r *Runtime) newSession(id string) *Session {
	r.now++
	return &Session{
		id:        id,
		rt:        r,
		script:    r.NewScript,
		startTime: r.now,
		modTime:   r.now,
	}
}

func (r *Runtime) CreateSession(ctx context.Context, opts runtime.Options) (runtime.AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := r.newSession(fmt.Sprintf("session-%d", r.nextID))
	s.model = opts.Model
	r.sessions[s.id] = s
	return s, nil
}

func (r *Runtime) GetSession(ctx context.Context, id string, opts runtime.Options) (runtime.AgentSession, error) {
	if r.GetHook != nil {
		r.GetHook(ctx, id)
	}

	r.mu.Lock()
	r.getCalls[id]++
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	if !s.persisted {
		s.mu.Unlock()
		return nil, nil
	}
	// Resuming a stored session reopens it.
	s.closed = false
	s.mu.Unlock()

	if r.LoadedHook != nil {
		r.LoadedHook(ctx, id)
	}
	return s, nil
}

func (r *Runtime) ListSessions(ctx context.Context) ([]types.SessionMetadata, error) {
	if r.ListHook != nil {
		r.ListHook(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lists++
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []types.SessionMetadata
	for _, s := range r.sessions {
		s.mu.Lock()
		if s.persisted {
			out = append(out, types.SessionMetadata{ID: s.id, StartTime: s.startTime, ModifiedTime: s.modTime})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedTime > out[j].ModifiedTime })
	return out, nil
}

func (r *Runtime) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleted = append(r.deleted, id)
	if _, ok := r.sessions[id]; !ok {
		return errors.New("session not found")
	}
	delete(r.sessions, id)
	return nil
}

func (r *Runtime) LoadEvents(ctx context.Context, id string) ([]types.Event, error) {
	r.mu.Lock()
	err := r.loadErrs[id]
	s := r.sessions[id]
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return s.Events(ctx)
}

func (r *Runtime) OnDidChange(fn func(sessionID string)) (event.Subscription, error) {
	return r.onChange.Subscribe(fn), nil
}

// Session is an in-memory runtime.AgentSession.
type Session struct {
	id       string
	rt       *Runtime
	emitters runtime.Emitters

	mu         sync.Mutex
	events     []types.Event
	script     Script
	model      string
	permission runtime.PermissionFunc
	persisted  bool
	closed     bool
	startTime  int64
	modTime    int64
	prompts    []string
	modelSets  int
	closeCalls int
	authErr    error
}

var _ runtime.AgentSession = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// SetScript replaces what Send does.
func (s *Session) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// FailAuth makes AuthInfo fail with err.
func (s *Session) FailAuth(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authErr = err
}

// Prompts returns the prompts passed to Send.
func (s *Session) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// ModelSets returns how many times SetSelectedModel was called.
func (s *Session) ModelSets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelSets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Permission returns the installed permission handler.
func (s *Session) Permission() runtime.PermissionFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Listeners returns the number of subscribed event listeners.
func (s *Session) Listeners() int {
	return s.emitters.UserMessage.Len() + s.emitters.AssistantMessage.Len() +
		s.emitters.ToolExecutionStart.Len() + s.emitters.ToolExecutionComplete.Len() +
		s.emitters.SessionError.Len()
}

// EmitEvent appends ev to the log, marks the session persisted and delivers
// ev to listeners.
func (s *Session) EmitEvent(ev types.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return runtime.ErrSessionClosed
	}
	s.events = append(s.events, ev)
	s.persisted = true
	s.modTime++
	s.mu.Unlock()

	s.emitters.Dispatch(ev)
	return nil
}

// RequestPermission asks the attached permission handler, denying when none
// is set.
func (s *Session) RequestPermission(ctx context.Context, req types.PermissionRequest) types.PermissionResult {
	s.mu.Lock()
	fn := s.permission
	s.mu.Unlock()
	if fn == nil {
		return types.PermissionResult{Kind: types.PermissionDenied}
	}
	return fn(ctx, req)
}

func (s *Session) OnUserMessage(fn func(*types.UserMessageData)) event.Subscription {
	return s.emitters.UserMessage.Subscribe(fn)
}

func (s *Session) OnAssistantMessage(fn func(*types.AssistantMessageData)) event.Subscription {
	return s.emitters.AssistantMessage.Subscribe(fn)
}

func (s *Session) OnToolExecutionStart(fn func(*types.ToolExecutionStartData)) event.Subscription {
	return s.emitters.ToolExecutionStart.Subscribe(fn)
}

func (s *Session) OnToolExecutionComplete(fn func(*types.ToolExecutionCompleteData)) event.Subscription {
	return s.emitters.ToolExecutionComplete.Subscribe(fn)
}

func (s *Session) OnSessionError(fn func(*types.SessionErrorData)) event.Subscription {
	return s.emitters.SessionError.Subscribe(fn)
}

func (s *Session) Send(ctx context.Context, prompt string, attachments []types.Attachment) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	script := s.script
	s.mu.Unlock()

	if err := s.EmitEvent(types.NewUserMessage(prompt, attachments...)); err != nil {
		return err
	}
	if script == nil {
		return nil
	}
	return script(ctx, s, prompt)
}

func (s *Session) SelectedModel(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model, nil
}

func (s *Session) SetSelectedModel(ctx context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
	s.modelSets++
	return nil
}

func (s *Session) AuthInfo(ctx context.Context) (runtime.AuthInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authErr != nil {
		return runtime.AuthInfo{}, s.authErr
	}
	return runtime.AuthInfo{Provider: "fake", Authenticated: true}, nil
}

func (s *Session) Events(ctx context.Context) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...), nil
}

func (s *Session) Emit(ctx context.Context, ev types.Event) error {
	return s.EmitEvent(ev)
}

func (s *Session) SetPermissionHandler(fn runtime.PermissionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = fn
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCalls++
	return nil
}

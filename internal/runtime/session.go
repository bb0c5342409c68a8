package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/provider"
	"github.com/opencode-ai/cliagent/pkg/types"
)

const (
	// MaxSteps is the maximum number of model calls per Send.
	MaxSteps = 50
	// MaxRetries is the maximum number of retries for model errors.
	MaxRetries           = 3
	RetryInitialInterval = time.Second
	RetryMaxInterval     = 30 * time.Second
	RetryMaxElapsedTime  = 2 * time.Minute
)

const systemPrompt = `You are a coding agent working in the user's repository.
Use the tools to inspect and change files and to run commands.
Call report_intent with a few words before starting a new piece of work.
Keep answers short and refer to files by path.`

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// sessionRecord is the persisted metadata of a local session.
type sessionRecord struct {
	ID               string `json:"id"`
	StartTime        int64  `json:"startTime"`
	ModifiedTime     int64  `json:"modifiedTime"`
	Model            string `json:"model,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

type localSession struct {
	rt       *Local
	log      zerolog.Logger
	emitters Emitters

	// sendMu serializes Send and Emit so the log keeps emission order.
	sendMu sync.Mutex

	mu         sync.Mutex
	record     sessionRecord
	persisted  bool
	permission PermissionFunc
	closed     bool
}

func newLocalSession(rt *Local, record sessionRecord, persisted bool) *localSession {
	return &localSession{
		rt:        rt,
		log:       rt.log.With().Str("session", record.ID).Logger(),
		record:    record,
		persisted: persisted,
	}
}

func (s *localSession) ID() string { return s.record.ID }

func (s *localSession) OnUserMessage(fn func(*types.UserMessageData)) event.Subscription {
	return s.emitters.UserMessage.Subscribe(fn)
}

func (s *localSession) OnAssistantMessage(fn func(*types.AssistantMessageData)) event.Subscription {
	return s.emitters.AssistantMessage.Subscribe(fn)
}

func (s *localSession) OnToolExecutionStart(fn func(*types.ToolExecutionStartData)) event.Subscription {
	return s.emitters.ToolExecutionStart.Subscribe(fn)
}

func (s *localSession) OnToolExecutionComplete(fn func(*types.ToolExecutionCompleteData)) event.Subscription {
	return s.emitters.ToolExecutionComplete.Subscribe(fn)
}

func (s *localSession) OnSessionError(fn func(*types.SessionErrorData)) event.Subscription {
	return s.emitters.SessionError.Subscribe(fn)
}

func (s *localSession) SetPermissionHandler(fn PermissionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = fn
}

func (s *localSession) SelectedModel(ctx context.Context) (string, error) {
	s.mu.Lock()
	m := s.record.Model
	s.mu.Unlock()
	if m != "" {
		return m, nil
	}
	return s.rt.models.DefaultModel(), nil
}

func (s *localSession) SetSelectedModel(ctx context.Context, ref string) error {
	p, modelID, err := s.rt.models.Resolve(ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.record.Model = p.ID() + "/" + modelID
	persisted := s.persisted
	record := s.record
	s.mu.Unlock()

	if persisted {
		return s.rt.store.Put(ctx, []string{"session", record.ID}, record)
	}
	return nil
}

func (s *localSession) AuthInfo(ctx context.Context) (AuthInfo, error) {
	ref, err := s.SelectedModel(ctx)
	if err != nil {
		return AuthInfo{}, err
	}
	p, _, err := s.rt.models.Resolve(ref)
	if err != nil {
		return AuthInfo{}, err
	}
	return AuthInfo{Provider: p.Name(), Authenticated: true}, nil
}

func (s *localSession) Events(ctx context.Context) ([]types.Event, error) {
	return s.rt.LoadEvents(ctx, s.ID())
}

func (s *localSession) Emit(ctx context.Context, ev types.Event) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.emit(ctx, ev)
}

// emit persists ev and delivers it. Callers hold sendMu.
func (s *localSession) emit(ctx context.Context, ev types.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	now := time.Now().UnixMilli()
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = now
	}
	s.record.ModifiedTime = now
	s.persisted = true
	record := s.record
	s.mu.Unlock()

	if err := s.rt.store.Append(ctx, []string{"events", record.ID}, ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := s.rt.store.Put(ctx, []string{"session", record.ID}, record); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.emitters.Dispatch(ev)
	return nil
}

func (s *localSession) Send(ctx context.Context, prompt string, attachments []types.Attachment) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.emit(ctx, types.NewUserMessage(prompt, attachments...)); err != nil {
		return err
	}

	err := s.run(ctx)
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		errorType := "model"
		if ctx.Err() != nil {
			errorType = "aborted"
		}
		emitErr := s.emit(context.WithoutCancel(ctx), types.Event{
			Type: types.EventSessionError,
			Data: &types.SessionErrorData{ErrorType: errorType, Message: err.Error()},
		})
		if emitErr != nil {
			s.log.Warn().Err(emitErr).Msg("failed to record session error")
		}
	}
	return err
}

func (s *localSession) run(ctx context.Context) error {
	ref, err := s.SelectedModel(ctx)
	if err != nil {
		return err
	}
	p, modelID, err := s.rt.models.Resolve(ref)
	if err != nil {
		return err
	}

	chatModel, err := p.ChatModel().WithTools(provider.ConvertToEinoTools(builtinToolInfos()))
	if err != nil {
		return fmt.Errorf("failed to bind tools: %w", err)
	}

	env := &toolEnv{workDir: s.workDir(), permit: s.permit}

	for step := 0; step < MaxSteps; step++ {
		events, err := s.rt.LoadEvents(ctx, s.ID())
		if err != nil {
			return err
		}

		msg, err := s.generate(ctx, chatModel, modelID, buildMessages(events))
		if err != nil {
			return err
		}

		if msg.Content != "" {
			if err := s.emit(ctx, types.Event{
				Type: types.EventAssistantMessage,
				Data: &types.AssistantMessageData{Content: msg.Content, MessageID: ulid.Make().String()},
			}); err != nil {
				return err
			}
		}

		if len(msg.ToolCalls) == 0 {
			return nil
		}

		for _, call := range msg.ToolCalls {
			if err := s.execute(ctx, env, call); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("max steps exceeded")
}

func (s *localSession) generate(ctx context.Context, chatModel model.ToolCallingChatModel, modelID string, messages []*schema.Message) (*schema.Message, error) {
	var msg *schema.Message
	operation := func() error {
		var err error
		msg, err = chatModel.Generate(ctx, messages, model.WithModel(modelID))
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retryIn", wait).Msg("model call failed")
	}

	if err := backoff.RetryNotify(operation, newRetryBackoff(ctx), notify); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *localSession) execute(ctx context.Context, env *toolEnv, call schema.ToolCall) error {
	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			args = map[string]any{}
		}
	}

	if err := s.emit(ctx, types.Event{
		Type: types.EventToolExecutionStart,
		Data: &types.ToolExecutionStartData{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Arguments:  args,
		},
	}); err != nil {
		return err
	}

	var output string
	var toolErr *types.ToolError
	if t, ok := builtinByName[call.Function.Name]; ok {
		output, toolErr = t.run(ctx, env, args)
	} else {
		toolErr = &types.ToolError{Code: CodeUnknownTool, Message: "Unknown tool: " + call.Function.Name}
	}

	complete := &types.ToolExecutionCompleteData{
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Arguments:  args,
		Success:    toolErr == nil,
		Error:      toolErr,
	}
	if toolErr == nil {
		complete.Result = &types.ToolResult{Content: output}
	}

	// Record the result even when ctx is done so the log stays balanced.
	return s.emit(context.WithoutCancel(ctx), types.Event{Type: types.EventToolExecutionComplete, Data: complete})
}

func (s *localSession) permit(ctx context.Context, req types.PermissionRequest) bool {
	s.mu.Lock()
	fn := s.permission
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(ctx, req).Approved()
}

func (s *localSession) workDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.WorkingDirectory != "" {
		return s.record.WorkingDirectory
	}
	return s.rt.workDir
}

func (s *localSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.permission = nil
	return nil
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// buildMessages converts an event log into the model conversation.
func buildMessages(events []types.Event) []*schema.Message {
	messages := []*schema.Message{{Role: schema.System, Content: systemPrompt}}
	last := func() *schema.Message { return messages[len(messages)-1] }

	for _, ev := range events {
		switch data := ev.Data.(type) {
		case *types.UserMessageData:
			content := data.Content
			for _, a := range data.Attachments {
				content += fmt.Sprintf("\n\nAttached file: %s", a.Path)
			}
			messages = append(messages, &schema.Message{Role: schema.User, Content: content})

		case *types.AssistantMessageData:
			if data.Content == "" {
				continue
			}
			messages = append(messages, &schema.Message{Role: schema.Assistant, Content: data.Content})

		case *types.ToolExecutionStartData:
			if last().Role != schema.Assistant {
				messages = append(messages, &schema.Message{Role: schema.Assistant})
			}
			argsJSON, _ := json.Marshal(data.Arguments)
			m := last()
			m.ToolCalls = append(m.ToolCalls, schema.ToolCall{
				ID:   data.ToolCallID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      data.ToolName,
					Arguments: string(argsJSON),
				},
			})

		case *types.ToolExecutionCompleteData:
			content := ""
			if data.Result != nil {
				content = data.Result.Content
			}
			if data.Error != nil {
				content = "Error: " + data.Error.Message
			}
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    content,
				ToolCallID: data.ToolCallID,
			})
		}
	}
	return messages
}

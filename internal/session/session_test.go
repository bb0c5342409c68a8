package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/internal/runtime/runtimetest"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

type recordingStream struct {
	mu       sync.Mutex
	markdown []string
	parts    []types.ResponsePart
}

func (r *recordingStream) Markdown(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markdown = append(r.markdown, text)
}

func (r *recordingStream) Push(part types.ResponsePart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = append(r.parts, part)
}

func (r *recordingStream) text() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.markdown...)
}

func (r *recordingStream) pushed() []types.ResponsePart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ResponsePart(nil), r.parts...)
}

func toolStart(id, name string, args map[string]any) types.Event {
	return types.Event{Type: types.EventToolExecutionStart, Data: &types.ToolExecutionStartData{
		ToolCallID: id, ToolName: name, Arguments: args,
	}}
}

func toolComplete(id, name string, toolErr *types.ToolError) types.Event {
	data := &types.ToolExecutionCompleteData{ToolCallID: id, ToolName: name, Success: toolErr == nil, Error: toolErr}
	if toolErr == nil {
		data.Result = &types.ToolResult{Content: "ok"}
	}
	return types.Event{Type: types.EventToolExecutionComplete, Data: data}
}

func emitAll(s *runtimetest.Session, events ...types.Event) error {
	for _, ev := range events {
		if err := s.EmitEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func newTestSession(t *testing.T, cfg sessionConfig) (*Session, *runtimetest.Session) {
	t.Helper()
	rt := runtimetest.New()
	agent, err := rt.CreateSession(context.Background(), runtime.Options{})
	require.NoError(t, err)
	fake := agent.(*runtimetest.Session)
	return newSession(agent, cfg), fake
}

func TestSession_HandleRequestStreamsOutput(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{workingDirectory: t.TempDir()})
	fake.SetScript(func(ctx context.Context, f *runtimetest.Session, prompt string) error {
		return emitAll(f,
			types.NewAssistantMessage("Looking at it"),
			toolStart("r1", "report_intent", map[string]any{"intent": "Reading"}),
			toolComplete("r1", "report_intent", nil),
			toolStart("t1", "think", map[string]any{"thought": "plan"}),
			toolComplete("t1", "think", nil),
			toolStart("v1", "view", map[string]any{"path": "main.go"}),
			toolComplete("v1", "view", nil),
			types.NewAssistantMessage(""),
			types.NewAssistantMessage("Done"),
		)
	})

	stream := &recordingStream{}
	s.AttachStream(stream)

	var statuses []types.SessionStatus
	s.OnDidChangeStatus(func(st types.SessionStatus) { statuses = append(statuses, st) })

	require.NoError(t, s.HandleRequest(context.Background(), "look", nil, ""))

	assert.Equal(t, types.StatusCompleted, s.Status())
	assert.Equal(t, []types.SessionStatus{types.StatusInProgress, types.StatusCompleted}, statuses)
	assert.Equal(t, []string{"Looking at it", "Done"}, stream.text())
	assert.Equal(t, []string{"look"}, fake.Prompts())

	parts := stream.pushed()
	require.Len(t, parts, 4)

	thinking, ok := parts[0].(*types.ThinkingPart)
	require.True(t, ok)
	assert.False(t, thinking.Done)
	assert.Equal(t, "plan", thinking.Content)

	done, ok := parts[1].(*types.ThinkingPart)
	require.True(t, ok)
	assert.True(t, done.Done)

	inv, ok := parts[3].(*types.ToolInvocation)
	require.True(t, ok)
	assert.Equal(t, "v1", inv.ToolCallID)
	assert.True(t, inv.IsComplete)
	assert.Same(t, parts[2], parts[3])
}

func TestSession_SubscriptionsLastOneRequest(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	stream := &recordingStream{}
	s.AttachStream(stream)

	require.NoError(t, s.HandleRequest(context.Background(), "one", nil, ""))
	assert.Equal(t, 0, fake.Listeners())

	require.NoError(t, fake.EmitEvent(types.NewAssistantMessage("late")))
	assert.Empty(t, stream.text())
}

func TestSession_FailureSetsFailedStatus(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	fake.SetScript(runtimetest.Fail(errors.New("model unavailable")))

	stream := &recordingStream{}
	s.AttachStream(stream)

	err := s.HandleRequest(context.Background(), "hi", nil, "")
	require.NoError(t, err)

	assert.Equal(t, types.StatusFailed, s.Status())
	require.Len(t, stream.text(), 1)
	assert.Contains(t, stream.text()[0], "model unavailable")
}

func TestSession_AuthFailureSkipsSend(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	fake.FailAuth(errors.New("no token"))

	require.NoError(t, s.HandleRequest(context.Background(), "hi", nil, ""))
	assert.Equal(t, types.StatusFailed, s.Status())
	assert.Empty(t, fake.Prompts())
}

func TestSession_SessionErrorSurfaced(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	fake.SetScript(func(ctx context.Context, f *runtimetest.Session, _ string) error {
		return f.EmitEvent(types.Event{
			Type: types.EventSessionError,
			Data: &types.SessionErrorData{ErrorType: "model", Message: "rate limited"},
		})
	})
	stream := &recordingStream{}
	s.AttachStream(stream)

	require.NoError(t, s.HandleRequest(context.Background(), "hi", nil, ""))
	require.Len(t, stream.text(), 1)
	assert.Contains(t, stream.text()[0], "rate limited")
	assert.Equal(t, types.StatusCompleted, s.Status())
}

func TestSession_ModelSwitchedOnlyWhenDifferent(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	ctx := context.Background()

	require.NoError(t, s.HandleRequest(ctx, "a", nil, "openai/gpt-4o"))
	assert.Equal(t, 1, fake.ModelSets())

	require.NoError(t, s.HandleRequest(ctx, "b", nil, "openai/gpt-4o"))
	assert.Equal(t, 1, fake.ModelSets())

	require.NoError(t, s.HandleRequest(ctx, "c", nil, ""))
	assert.Equal(t, 1, fake.ModelSets())

	id, err := s.SelectedModelID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", id)
}

func TestSession_DisposedRejectsRequests(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.HandleRequest(context.Background(), "hi", nil, ""), ErrSessionDisposed)
	assert.True(t, fake.Closed())
	assert.Equal(t, 1, fake.CloseCalls())
	assert.Nil(t, fake.Permission())
}

func TestSession_CloseAbortsRunningRequest(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	started := make(chan struct{})
	fake.SetScript(func(ctx context.Context, _ *runtimetest.Session, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- s.HandleRequest(context.Background(), "long", nil, "") }()

	<-started
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not aborted")
	}
	assert.Equal(t, types.StatusFailed, s.Status())
}

func TestSession_AttachStreamLastWins(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{})
	fake.SetScript(runtimetest.Reply("hi"))

	first := &recordingStream{}
	second := &recordingStream{}
	detachFirst := s.AttachStream(first)
	s.AttachStream(second)
	detachFirst()

	require.NoError(t, s.HandleRequest(context.Background(), "x", nil, ""))
	assert.Empty(t, first.text())
	assert.Equal(t, []string{"hi"}, second.text())
}

func TestSession_EditsTrackedAsDiffs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")

	s, fake := newTestSession(t, sessionConfig{
		workingDirectory: dir,
		workspace:        workspace.New(dir),
	})
	fake.SetScript(func(ctx context.Context, f *runtimetest.Session, _ string) error {
		if err := f.EmitEvent(toolStart("e1", "create", map[string]any{"path": "notes.txt", "file_text": "a\nb\n"})); err != nil {
			return err
		}
		result := f.RequestPermission(ctx, types.PermissionRequest{Kind: types.PermissionWrite, FileName: file})
		if !result.Approved() {
			return f.EmitEvent(toolComplete("e1", "create", &types.ToolError{Code: "denied", Message: "denied"}))
		}
		if err := os.WriteFile(file, []byte("a\nb\n"), 0644); err != nil {
			return err
		}
		return f.EmitEvent(toolComplete("e1", "create", nil))
	})

	stream := &recordingStream{}
	s.AttachStream(stream)

	require.NoError(t, s.HandleRequest(context.Background(), "write notes", nil, ""))

	assert.Empty(t, stream.pushed(), "edits are not shown as invocations")
	diffs := s.Diffs()
	require.Len(t, diffs, 1)
	assert.Equal(t, file, diffs[0].Path)
	assert.Equal(t, "e1", diffs[0].ToolCallID)
	assert.Equal(t, 2, diffs[0].Additions)
}

func TestSession_PermissionNegotiatedWithHandler(t *testing.T) {
	s, fake := newTestSession(t, sessionConfig{workingDirectory: t.TempDir()})

	var results []types.PermissionResultKind
	var sawPending *types.PermissionRequest
	fake.SetScript(func(ctx context.Context, f *runtimetest.Session, _ string) error {
		res := f.RequestPermission(ctx, types.PermissionRequest{Kind: types.PermissionRead, Path: "/etc/hosts"})
		results = append(results, res.Kind)
		return nil
	})

	s.AttachPermissionHandler(func(ctx context.Context, req types.PermissionRequest, toolCallID string) (bool, error) {
		sawPending = s.PendingPermission()
		return true, nil
	})

	require.NoError(t, s.HandleRequest(context.Background(), "read hosts", nil, ""))
	assert.Equal(t, []types.PermissionResultKind{types.PermissionApproved}, results)
	require.NotNil(t, sawPending)
	assert.Equal(t, "/etc/hosts", sawPending.Path)
	assert.Nil(t, s.PendingPermission())
}

func TestSession_SyntheticMessagesInHistory(t *testing.T) {
	s, _ := newTestSession(t, sessionConfig{})
	ctx := context.Background()

	require.NoError(t, s.AddUserMessage(ctx, "hand off to the cloud agent"))
	require.NoError(t, s.AddPullRequest(ctx, &types.PullRequestPart{
		URI:   "https://example.com/pr/1",
		Title: "Fix & test",
	}, "Opened a pull request"))
	require.NoError(t, s.AddUserAssistantMessage(ctx, "It is ready for review"))

	turns, err := s.ChatHistory(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	req, ok := turns[0].(*types.RequestTurn)
	require.True(t, ok)
	assert.Equal(t, "hand off to the cloud agent", req.Prompt)

	resp, ok := turns[1].(*types.ResponseTurn)
	require.True(t, ok)
	require.Len(t, resp.Parts, 3)
	pr, ok := resp.Parts[0].(*types.PullRequestPart)
	require.True(t, ok)
	assert.Equal(t, "Fix & test", pr.Title)
	assert.Equal(t, &types.MarkdownPart{Value: "Opened a pull request"}, resp.Parts[1])
	assert.Equal(t, &types.MarkdownPart{Value: "It is ready for review"}, resp.Parts[2])
}

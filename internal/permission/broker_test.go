package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

type trackCall struct {
	toolCallID string
	file       string
}

type fakeTracker struct {
	mu    sync.Mutex
	calls []trackCall
}

func (f *fakeTracker) TrackEdit(_ context.Context, toolCallID, file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, trackCall{toolCallID, file})
	return nil
}

func (f *fakeTracker) tracked() []trackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]trackCall(nil), f.calls...)
}

func readReq(path string) types.PermissionRequest {
	return types.PermissionRequest{Kind: types.PermissionRead, Path: path}
}

func writeReq(file string) types.PermissionRequest {
	return types.PermissionRequest{Kind: types.PermissionWrite, FileName: file, Diff: "+x"}
}

func TestBroker_ReadInsideWorkingDirectory(t *testing.T) {
	wd := t.TempDir()
	b := NewBroker(BrokerConfig{WorkingDirectory: wd})

	result := b.Request(context.Background(), readReq(filepath.Join(wd, "main.go")))
	assert.True(t, result.Approved())

	result = b.Request(context.Background(), readReq("relative/file.go"))
	assert.True(t, result.Approved(), "relative paths resolve against the working directory")
}

func TestBroker_ReadInsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir(), Workspace: workspace.New(ws)})

	result := b.Request(context.Background(), readReq(filepath.Join(ws, "README.md")))
	assert.True(t, result.Approved())
}

func TestBroker_ReadOutsideAsksHandler(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})

	var got types.PermissionRequest
	b.Attach(func(_ context.Context, req types.PermissionRequest, toolCallID string) (bool, error) {
		got = req
		assert.Empty(t, toolCallID)
		return true, nil
	})

	result := b.Request(context.Background(), readReq("/etc/hosts"))
	assert.True(t, result.Approved())
	assert.Equal(t, "/etc/hosts", got.Path)
}

func TestBroker_NoHandlerDeniesOnCancel(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := b.Request(ctx, readReq("/etc/hosts"))
	assert.False(t, result.Approved())
	assert.Equal(t, types.PermissionDenied, result.Kind)
	assert.Nil(t, b.Pending())
}

func TestBroker_WaitsForHandlerAttach(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})

	done := make(chan types.PermissionResult, 1)
	go func() {
		done <- b.Request(context.Background(), readReq("/etc/hosts"))
	}()

	require.Eventually(t, func() bool { return b.Pending() != nil }, time.Second, 5*time.Millisecond)

	b.Attach(AutoApprove)

	select {
	case result := <-done:
		assert.True(t, result.Approved())
	case <-time.After(time.Second):
		t.Fatal("request did not resume after attach")
	}
}

func TestBroker_HandlerErrorDenies(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})
	b.Attach(func(context.Context, types.PermissionRequest, string) (bool, error) {
		return true, errors.New("ui gone")
	})

	result := b.Request(context.Background(), readReq("/etc/hosts"))
	assert.Equal(t, types.PermissionDenied, result.Kind)
}

func TestBroker_DetachRestoresWaiting(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})

	detach := b.Attach(AutoApprove)
	assert.True(t, b.HasHandler())
	detach()
	assert.False(t, b.HasHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.False(t, b.Request(ctx, readReq("/etc/hosts")).Approved())
}

func TestBroker_StaleDetachKeepsNewHandler(t *testing.T) {
	b := NewBroker(BrokerConfig{})

	detachFirst := b.Attach(AutoDeny)
	b.Attach(AutoApprove)
	detachFirst()

	assert.True(t, b.HasHandler())
	assert.True(t, b.Request(context.Background(), readReq("/etc/hosts")).Approved())
}

func TestBroker_IsolatedWriteTracked(t *testing.T) {
	wd := t.TempDir()
	tracker := &fakeTracker{}
	b := NewBroker(BrokerConfig{
		WorkingDirectory: wd,
		Isolation:        true,
		Workspace:        workspace.New(t.TempDir()),
		Tracker:          tracker,
	})

	file := filepath.Join(wd, "a.go")
	b.RecordEdit(file, "call-1")

	result := b.Request(context.Background(), writeReq(file))
	assert.True(t, result.Approved())
	assert.Equal(t, []trackCall{{"call-1", file}}, tracker.tracked())
	assert.Zero(t, b.Edits().Len(file))
}

func TestBroker_IsolationIgnoredWhenWorkingDirectoryIsWorkspaceFolder(t *testing.T) {
	wd := t.TempDir()
	b := NewBroker(BrokerConfig{
		WorkingDirectory: wd,
		Isolation:        true,
		Workspace:        workspace.New(wd),
	})

	var asked bool
	b.Attach(func(context.Context, types.PermissionRequest, string) (bool, error) {
		asked = true
		return false, nil
	})

	result := b.Request(context.Background(), writeReq(filepath.Join(wd, ".env")))
	assert.False(t, result.Approved())
	assert.True(t, asked, "protected workspace file must be negotiated")
}

func TestBroker_WorkspaceWrite(t *testing.T) {
	ws := t.TempDir()
	tracker := &fakeTracker{}
	b := NewBroker(BrokerConfig{Workspace: workspace.New(ws), Tracker: tracker})

	var asked []string
	b.Attach(func(_ context.Context, req types.PermissionRequest, toolCallID string) (bool, error) {
		asked = append(asked, toolCallID)
		return false, nil
	})

	plain := filepath.Join(ws, "src", "main.go")
	b.RecordEdit(plain, "call-1")
	assert.True(t, b.Request(context.Background(), writeReq(plain)).Approved())

	protected := filepath.Join(ws, ".git", "config")
	b.RecordEdit(protected, "call-2")
	assert.False(t, b.Request(context.Background(), writeReq(protected)).Approved())

	assert.Equal(t, []string{"call-2"}, asked)
	assert.Equal(t, []trackCall{{"call-1", plain}}, tracker.tracked())
}

func TestBroker_ApprovedNegotiatedWriteTracked(t *testing.T) {
	tracker := &fakeTracker{}
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir(), Tracker: tracker})
	b.Attach(AutoApprove)

	file := filepath.Join(t.TempDir(), "outside.txt")
	b.RecordEdit(file, "call-9")

	assert.True(t, b.Request(context.Background(), writeReq(file)).Approved())
	assert.Equal(t, []trackCall{{"call-9", file}}, tracker.tracked())
}

func TestBroker_UncorrelatedWriteNotTracked(t *testing.T) {
	ws := t.TempDir()
	tracker := &fakeTracker{}
	b := NewBroker(BrokerConfig{Workspace: workspace.New(ws), Tracker: tracker})

	assert.True(t, b.Request(context.Background(), writeReq(filepath.Join(ws, "x.go"))).Approved())
	assert.Empty(t, tracker.tracked())
}

func TestBroker_TenEditsSameFileKeepOrder(t *testing.T) {
	tracker := &fakeTracker{}
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir(), Tracker: tracker})

	var mu sync.Mutex
	var negotiated []string
	b.Attach(func(_ context.Context, _ types.PermissionRequest, toolCallID string) (bool, error) {
		mu.Lock()
		negotiated = append(negotiated, toolCallID)
		mu.Unlock()
		return true, nil
	})

	file := filepath.Join(t.TempDir(), "shared.go")
	var want []string
	var wantTracked []trackCall
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("call-%d", i)
		want = append(want, id)
		wantTracked = append(wantTracked, trackCall{id, file})
		b.RecordEdit(file, id)
	}

	for i := 0; i < 10; i++ {
		require.True(t, b.Request(context.Background(), writeReq(file)).Approved())
	}

	assert.Equal(t, want, negotiated)
	assert.Equal(t, wantTracked, tracker.tracked())
}

func TestBroker_EditsOnDifferentFilesIndependent(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})

	var negotiated []string
	b.Attach(func(_ context.Context, _ types.PermissionRequest, toolCallID string) (bool, error) {
		negotiated = append(negotiated, toolCallID)
		return true, nil
	})

	dir := t.TempDir()
	a := filepath.Join(dir, "a.go")
	c := filepath.Join(dir, "c.go")
	b.RecordEdit(a, "a-1")
	b.RecordEdit(c, "c-1")
	b.RecordEdit(a, "a-2")

	b.Request(context.Background(), writeReq(c))
	b.Request(context.Background(), writeReq(a))
	b.Request(context.Background(), writeReq(a))

	assert.Equal(t, []string{"c-1", "a-1", "a-2"}, negotiated)
}

func TestBroker_ForgetEdit(t *testing.T) {
	b := NewBroker(BrokerConfig{WorkingDirectory: t.TempDir()})
	var negotiated []string
	b.Attach(func(_ context.Context, _ types.PermissionRequest, toolCallID string) (bool, error) {
		negotiated = append(negotiated, toolCallID)
		return true, nil
	})

	file := filepath.Join(t.TempDir(), "f.go")
	b.RecordEdit(file, "call-1")
	b.RecordEdit(file, "call-2")
	b.ForgetEdit("call-1")

	b.Request(context.Background(), writeReq(file))
	assert.Equal(t, []string{"call-2"}, negotiated)
}

func TestBroker_PendingAndEvents(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	required := make(chan event.PermissionRequiredData, 1)
	replied := make(chan event.PermissionRepliedData, 1)
	bus.Subscribe(event.PermissionRequired, func(e event.Event) {
		required <- e.Data.(event.PermissionRequiredData)
	})
	bus.Subscribe(event.PermissionReplied, func(e event.Event) {
		replied <- e.Data.(event.PermissionRepliedData)
	})

	var mu sync.Mutex
	var changes []*types.PermissionRequest
	b := NewBroker(BrokerConfig{
		SessionID:        "s1",
		WorkingDirectory: t.TempDir(),
		Bus:              bus,
		OnPendingChange: func(p *types.PermissionRequest) {
			mu.Lock()
			changes = append(changes, p)
			mu.Unlock()
		},
	})

	b.Attach(func(_ context.Context, req types.PermissionRequest, _ string) (bool, error) {
		pending := b.Pending()
		require.NotNil(t, pending)
		assert.Equal(t, req.Intention, pending.Intention)
		return false, nil
	})

	req := types.PermissionRequest{Kind: types.PermissionShell, Intention: "list files", FullCommandText: "ls"}
	result := b.Request(context.Background(), req)
	assert.Equal(t, types.PermissionDenied, result.Kind)
	assert.Nil(t, b.Pending())

	mu.Lock()
	require.Len(t, changes, 2)
	assert.NotNil(t, changes[0])
	assert.Nil(t, changes[1])
	mu.Unlock()

	select {
	case data := <-required:
		assert.Equal(t, "s1", data.SessionID)
		assert.Equal(t, "list files", data.Request.Intention)
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for permission.required")
	}
	select {
	case data := <-replied:
		assert.Equal(t, types.PermissionDenied, data.Result)
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for permission.replied")
	}
}

func TestBroker_ShellPolicy(t *testing.T) {
	wd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(wd, "build"), 0755))

	b := NewBroker(BrokerConfig{
		WorkingDirectory: wd,
		Policy: Policy{Shell: map[string]Action{
			"git status *": ActionAllow,
			"git status":   ActionAllow,
			"ls *":         ActionAllow,
			"rm *":         ActionAllow,
			"curl *":       ActionDeny,
		}},
	})

	var asked []string
	b.Attach(func(_ context.Context, req types.PermissionRequest, _ string) (bool, error) {
		asked = append(asked, req.FullCommandText)
		return false, nil
	})

	shell := func(cmd string) bool {
		return b.Request(context.Background(), types.PermissionRequest{
			Kind: types.PermissionShell, Intention: "run", FullCommandText: cmd,
		}).Approved()
	}

	assert.True(t, shell("git status"))
	assert.True(t, shell("ls -la && git status --short"))
	assert.True(t, shell("rm -rf build"))
	assert.False(t, shell("curl https://example.com"))
	assert.False(t, shell("rm -rf /etc"))
	assert.False(t, shell("make build"))

	assert.Equal(t, []string{"rm -rf /etc", "make build"}, asked)
}

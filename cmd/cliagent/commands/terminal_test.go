package commands

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/pkg/types"
)

func TestTerminalStream_Text(t *testing.T) {
	var out bytes.Buffer
	stream := newTerminalStream(&out, "default")

	stream.Markdown("Looking at the build.")
	stream.Push(&types.ThinkingPart{Content: "checking go.mod"})
	stream.Push(&types.ThinkingPart{Done: true})
	stream.Push(&types.ToolInvocation{ToolCallID: "1", InvocationMessage: "Running `go build`"})
	stream.Push(&types.ToolInvocation{ToolCallID: "1", InvocationMessage: "Ran `go build`", IsComplete: true})
	stream.Push(&types.ToolInvocation{ToolCallID: "2", InvocationMessage: "Read main.go", IsComplete: true, IsError: true})

	assert.Equal(t, "Looking at the build.\n· checking go.mod\n\n→ Running `go build`\n✓ Ran `go build`\n✗ Read main.go\n", out.String())
}

func TestTerminalStream_JSON(t *testing.T) {
	var out bytes.Buffer
	stream := newTerminalStream(&out, "json")

	stream.Markdown("hi")

	assert.JSONEq(t, `{"type":"markdown","part":{"value":"hi"}}`, out.String())
}

func TestRenderHistory(t *testing.T) {
	var out bytes.Buffer
	renderHistory(&out, []types.Turn{
		&types.RequestTurn{Prompt: "fix it\nplease", References: []types.Attachment{{Path: "/src/a.go", DisplayName: "a.go"}}},
		&types.ResponseTurn{Parts: []types.ResponsePart{&types.MarkdownPart{Value: "Fixed."}}},
	}, "default")

	assert.Equal(t, "\n> fix it\n> please\n  @a.go\n\nFixed.\n", out.String())
}

func TestTerminalPrompter(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := newTerminalPrompter(strings.NewReader(tt.input), &out)

			ok, err := p.Handle(context.Background(), types.PermissionRequest{
				Kind:            types.PermissionShell,
				FullCommandText: "rm -rf build",
				Intention:       "Clean the build directory",
			}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "rm -rf build\n(Clean the build directory)\nAllow? [y/N]")
		})
	}
}

func TestTerminalPrompter_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := newTerminalPrompter(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := p.Handle(ctx, types.PermissionRequest{Kind: types.PermissionRead, Path: "/etc/passwd"}, "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDescribePermission(t *testing.T) {
	assert.Equal(t, "The agent wants to read /etc/hosts",
		describePermission(types.PermissionRequest{Kind: types.PermissionRead, Path: "/etc/hosts"}))
	assert.Equal(t, "The agent wants to edit go.mod\n-a\n+b",
		describePermission(types.PermissionRequest{Kind: types.PermissionWrite, FileName: "go.mod", Diff: "-a\n+b\n"}))
	assert.Equal(t, "The agent wants to run: ls",
		describePermission(types.PermissionRequest{Kind: types.PermissionShell, FullCommandText: "ls"}))
}

func TestFormatTokens(t *testing.T) {
	assert.Equal(t, "-", formatTokens(0))
	assert.Equal(t, "512", formatTokens(512))
	assert.Equal(t, "200K", formatTokens(200000))
}

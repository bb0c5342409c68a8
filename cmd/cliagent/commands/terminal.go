package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/opencode-ai/cliagent/pkg/types"
)

// terminalStream renders session output for a terminal, or as JSON lines
// when asJSON is set.
type terminalStream struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool
}

func newTerminalStream(out io.Writer, format string) *terminalStream {
	return &terminalStream{out: out, asJSON: format == "json"}
}

func (t *terminalStream) Markdown(text string) {
	t.Push(&types.MarkdownPart{Value: text})
}

func (t *terminalStream) Push(part types.ResponsePart) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.asJSON {
		json.NewEncoder(t.out).Encode(struct {
			Type string             `json:"type"`
			Part types.ResponsePart `json:"part"`
		}{part.PartType(), part})
		return
	}

	switch p := part.(type) {
	case *types.MarkdownPart:
		fmt.Fprint(t.out, p.Value)
	case *types.ThinkingPart:
		if !p.Done && p.Content != "" {
			fmt.Fprintf(t.out, "\n· %s\n", p.Content)
		}
	case *types.ToolInvocation:
		switch {
		case !p.IsComplete:
			fmt.Fprintf(t.out, "\n→ %s\n", p.InvocationMessage)
		case p.IsError:
			fmt.Fprintf(t.out, "✗ %s\n", p.InvocationMessage)
		default:
			fmt.Fprintf(t.out, "✓ %s\n", p.InvocationMessage)
		}
	case *types.PullRequestPart:
		fmt.Fprintf(t.out, "\nPull request: %s\n  %s\n", p.Title, p.URI)
	}
}

// renderHistory prints a rebuilt transcript.
func renderHistory(out io.Writer, turns []types.Turn, format string) {
	stream := newTerminalStream(out, format)
	for _, turn := range turns {
		switch t := turn.(type) {
		case *types.RequestTurn:
			if stream.asJSON {
				json.NewEncoder(out).Encode(struct {
					Type string             `json:"type"`
					Turn *types.RequestTurn `json:"turn"`
				}{t.TurnType(), t})
				continue
			}
			fmt.Fprintf(out, "\n> %s\n", strings.ReplaceAll(t.Prompt, "\n", "\n> "))
			for _, ref := range t.References {
				fmt.Fprintf(out, "  @%s\n", ref.DisplayName)
			}
			fmt.Fprintln(out)
		case *types.ResponseTurn:
			for _, part := range t.Parts {
				stream.Push(part)
			}
			if !stream.asJSON {
				fmt.Fprintln(out)
			}
		}
	}
}

// terminalPrompter asks the user to confirm permission requests.
type terminalPrompter struct {
	in  io.Reader
	out io.Writer

	mu    sync.Mutex
	once  sync.Once
	lines chan string
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, lines: make(chan string)}
}

// Handle is a permission.Handler. Anything but "y" or "yes" denies.
func (p *terminalPrompter) Handle(ctx context.Context, req types.PermissionRequest, toolCallID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(p.in)
			for scanner.Scan() {
				p.lines <- scanner.Text()
			}
			close(p.lines)
		}()
	})

	fmt.Fprintf(p.out, "\n%s\nAllow? [y/N] ", describePermission(req))

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			fmt.Fprintln(p.out)
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func describePermission(req types.PermissionRequest) string {
	switch req.Kind {
	case types.PermissionRead:
		return fmt.Sprintf("The agent wants to read %s", req.Path)
	case types.PermissionWrite:
		if req.Diff == "" {
			return fmt.Sprintf("The agent wants to edit %s", req.FileName)
		}
		return fmt.Sprintf("The agent wants to edit %s\n%s", req.FileName, strings.TrimRight(req.Diff, "\n"))
	case types.PermissionShell:
		if req.Intention == "" {
			return fmt.Sprintf("The agent wants to run: %s", req.FullCommandText)
		}
		return fmt.Sprintf("The agent wants to run: %s\n(%s)", req.FullCommandText, req.Intention)
	}
	return fmt.Sprintf("The agent requests %s access", req.Kind)
}

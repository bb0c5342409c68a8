package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/cliagent/internal/permission"
	"github.com/opencode-ai/cliagent/internal/session"
	"github.com/opencode-ai/cliagent/pkg/types"
)

var (
	runModel    string
	runContinue bool
	runSession  string
	runFormat   string
	runFiles    []string
	runYes      bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send a prompt to a new or existing session",
	Long: `Send a prompt to the agent and stream its response.

Examples:
  cliagent run "Fix the bug in main.go"
  cliagent run --model anthropic/claude-sonnet-4-20250514 "Explain this code"
  cliagent run --continue "Now add tests"
  cliagent run --file main.go "Review this file"`,
	RunE: runPrompt,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the most recent session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to the prompt")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Approve every permission request")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("message required. Usage: cliagent run \"your message\"")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	attachments := make([]types.Attachment, 0, len(runFiles))
	for _, file := range runFiles {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("failed to attach %s: %w", file, err)
		}
		attachments = append(attachments, types.Attachment{Path: abs, DisplayName: filepath.Base(abs)})
	}

	ref, err := openSession(ctx, a, prompt)
	if err != nil {
		return err
	}
	defer ref.Release()

	var handler permission.Handler = permission.AutoApprove
	if !runYes {
		handler = newTerminalPrompter(os.Stdin, cmd.ErrOrStderr()).Handle
	}
	defer ref.AttachPermissionHandler(handler)()
	defer ref.AttachStream(newTerminalStream(cmd.OutOrStdout(), runFormat))()

	if err := ref.HandleRequest(ctx, prompt, attachments, runModel); err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "\n\nsession %s: %s\n", ref.ID(), ref.Status())
	for _, d := range ref.Diffs() {
		fmt.Fprintf(errOut, "  %s +%d -%d\n", d.Path, d.Additions, d.Deletions)
	}

	if ref.Status() == types.StatusFailed {
		return errors.New("request failed")
	}
	return nil
}

// openSession resumes the session selected by --session or --continue, or
// creates a new one.
func openSession(ctx context.Context, a *app, prompt string) (*session.RefCounted, error) {
	opts := session.Options{Model: runModel}

	id := runSession
	if id == "" && runContinue {
		sessions, err := a.sessions.AllSessions(ctx)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, errors.New("no session to continue")
		}
		id = sessions[0].ID
	}

	if id == "" {
		return a.sessions.CreateSession(ctx, prompt, opts)
	}

	ref, err := a.sessions.GetSession(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return ref, nil
}

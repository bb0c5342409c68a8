package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/cliagent/internal/session"
	"github.com/opencode-ai/cliagent/pkg/types"
)

var (
	sessionsFormat string
	historyFormat  string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions",
	RunE:  runSessions,
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "Delete sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsFormat, "format", "table", "Output format (table|json)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "default", "Output format (default|json)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.sessions.AllSessions(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsFormat == "json" {
		if sessions == nil {
			sessions = []types.SessionSummary{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tLABEL\t")
	for _, s := range sessions {
		status := string(s.Status)
		if status == "" {
			status = "-"
		}
		started := time.UnixMilli(s.Timing.Start).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", s.ID, status, started, s.Label)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ref, err := a.sessions.GetSession(ctx, args[0], session.Options{})
	if err != nil {
		return err
	}
	if ref == nil {
		return fmt.Errorf("session %s not found", args[0])
	}
	defer ref.Release()

	turns, err := ref.ChatHistory(ctx)
	if err != nil {
		return err
	}
	renderHistory(cmd.OutOrStdout(), turns, historyFormat)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, id := range args {
		if err := a.sessions.DeleteSession(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	}
	return errors.Join(errs...)
}

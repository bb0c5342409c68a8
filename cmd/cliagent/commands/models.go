package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List the models of the configured providers. The default model is
marked with *.

Examples:
  cliagent models              # List all models
  cliagent models anthropic    # List only Anthropic models`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var providerFilter string
	if len(args) > 0 {
		providerFilter = args[0]
	}
	defaultModel := a.models.DefaultModel()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tPROVIDER\tMODEL\tCONTEXT\tMAX OUTPUT\t")
	for _, m := range a.models.AllModels() {
		if providerFilter != "" && m.ProviderID != providerFilter {
			continue
		}
		mark := ""
		if m.Ref() == defaultModel {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", mark, m.ProviderID, m.ID, formatTokens(m.ContextLength), formatTokens(m.MaxOutputTokens))
	}
	return w.Flush()
}

func formatTokens(n int) string {
	switch {
	case n <= 0:
		return "-"
	case n >= 1000:
		return fmt.Sprintf("%dK", n/1000)
	}
	return fmt.Sprintf("%d", n)
}

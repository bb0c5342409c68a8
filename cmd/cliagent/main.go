// Package main provides the entry point for the cliagent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/cliagent/cmd/cliagent/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

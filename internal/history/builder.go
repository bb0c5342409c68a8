// Package history rebuilds a chat transcript from a session's event log.
package history

import (
	"path/filepath"
	"strings"

	"github.com/opencode-ai/cliagent/internal/tool"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// reservedInstructionFiles are attached by the runtime itself and never
// shown as user references.
var reservedInstructionFiles = map[string]bool{
	"copilot-instructions.md": true,
	"AGENTS.md":               true,
	"CLAUDE.md":               true,
}

// Build replays events into request and response turns in a single pass.
// Consecutive assistant and tool events accumulate into one response turn.
func Build(events []types.Event) []types.Turn {
	var (
		turns   []types.Turn
		parts   []types.ResponsePart
		pending = tool.Pending{}
	)

	flush := func() {
		if len(parts) > 0 {
			turns = append(turns, &types.ResponseTurn{Parts: parts})
			parts = nil
		}
	}

	for _, ev := range events {
		switch data := ev.Data.(type) {
		case *types.UserMessageData:
			flush()
			turns = append(turns, &types.RequestTurn{
				Prompt:     StripReminders(data.Content),
				References: userReferences(data.Attachments),
			})

		case *types.AssistantMessageData:
			pr, rest := ExtractPullRequest(data.Content)
			if pr != nil {
				parts = append(parts, pr)
			}
			if strings.TrimSpace(rest) != "" {
				parts = append(parts, &types.MarkdownPart{Value: rest})
			}

		case *types.ToolExecutionStartData:
			if part := tool.ProcessStart(data, pending); part != nil {
				parts = append(parts, part)
			}

		case *types.ToolExecutionCompleteData:
			// The invocation was already appended at start and is updated in place.
			tool.ProcessComplete(data, pending)
		}
	}
	flush()

	return turns
}

func userReferences(attachments []types.Attachment) []types.Attachment {
	var refs []types.Attachment
	for _, a := range attachments {
		if isReservedInstructionFile(a.Path) {
			continue
		}
		refs = append(refs, a)
	}
	return refs
}

func isReservedInstructionFile(path string) bool {
	base := filepath.Base(path)
	return reservedInstructionFiles[base] || strings.HasSuffix(base, ".instructions.md")
}

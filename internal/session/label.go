package session

import (
	"strings"
	"unicode/utf8"

	"github.com/opencode-ai/cliagent/internal/history"
	"github.com/opencode-ai/cliagent/pkg/types"
)

const maxLabelLength = 50

// Label derives a session's display name from the first user message of its
// event log.
func Label(events []types.Event) string {
	for _, ev := range events {
		if data, ok := ev.Data.(*types.UserMessageData); ok {
			return labelFromPrompt(data.Content)
		}
	}
	return ""
}

// labelFromPrompt returns the first non-empty line of prompt without
// reminder markup, cut to maxLabelLength runes.
func labelFromPrompt(prompt string) string {
	for _, line := range strings.Split(history.StripReminders(prompt), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxLabelLength {
			return string([]rune(line)[:maxLabelLength]) + "..."
		}
		return line
	}
	return ""
}

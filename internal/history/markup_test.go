package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/pkg/types"
)

func TestStripReminders(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading reminder", "  <reminder>x</reminder>\nContent", "Content"},
		{"no markup", "plain text", "plain text"},
		{"multiline reminder", "<reminder>\nline one\nline two\n</reminder>Hello", "Hello"},
		{"datetime", "<current_datetime>2025-01-01T00:00:00Z</current_datetime>What time is it?", "What time is it?"},
		{
			"mixed markup",
			`A<reminder>r</reminder>B<current_datetime>d</current_datetime>C<pr_metadata uri="u" title="t" description="d" author="a" linkTag="l"/>D`,
			"ABCD",
		},
		{"only markup", "<reminder>x</reminder>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripReminders(tt.input))
		})
	}
}

func TestExtractPullRequest(t *testing.T) {
	content := `<pr_metadata uri="https://github.com/o/r/pull/1" title="Fix &amp; improve" description="Uses &lt;b&gt; &quot;tags&quot; &apos;ok&apos;" author="octocat" linkTag="PR #1"/>Body text`

	pr, rest := ExtractPullRequest(content)
	require.NotNil(t, pr)
	assert.Equal(t, "https://github.com/o/r/pull/1", pr.URI)
	assert.Equal(t, "Fix & improve", pr.Title)
	assert.Equal(t, `Uses <b> "tags" 'ok'`, pr.Description)
	assert.Equal(t, "octocat", pr.Author)
	assert.Equal(t, "PR #1", pr.LinkTag)
	assert.Equal(t, "Body text", rest)
}

func TestExtractPullRequest_NoTag(t *testing.T) {
	pr, rest := ExtractPullRequest("just text")
	assert.Nil(t, pr)
	assert.Equal(t, "just text", rest)
}

func TestFormatPullRequest_RoundTrip(t *testing.T) {
	in := &types.PullRequestPart{
		URI:         "https://example.com/pr/2",
		Title:       `A & B <c> "d" 'e'`,
		Description: "desc",
		Author:      "me",
		LinkTag:     "PR #2",
	}

	pr, rest := ExtractPullRequest(FormatPullRequest(in) + "\nafter")
	require.NotNil(t, pr)
	assert.Equal(t, in, pr)
	assert.Equal(t, "after", rest)
}

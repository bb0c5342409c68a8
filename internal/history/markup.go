package history

import (
	"regexp"
	"strings"

	"github.com/opencode-ai/cliagent/pkg/types"
)

var (
	reminderPattern = regexp.MustCompile(`(?s)<reminder>.*?</reminder>`)
	datetimePattern = regexp.MustCompile(`(?s)<current_datetime>.*?</current_datetime>`)
	prTagPattern    = regexp.MustCompile(`(?s)<pr_metadata\b([^>]*?)/?>`)
	prClosePattern  = regexp.MustCompile(`</pr_metadata>`)
	attrPattern     = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

var xmlUnescaper = strings.NewReplacer(
	"&apos;", "'",
	"&quot;", `"`,
	"&gt;", ">",
	"&lt;", "<",
	"&amp;", "&",
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// StripReminders removes reminder, datetime and pr_metadata markup from
// message text and trims the result. Text between removed segments is
// concatenated as is.
func StripReminders(content string) string {
	content = reminderPattern.ReplaceAllString(content, "")
	content = datetimePattern.ReplaceAllString(content, "")
	content = prTagPattern.ReplaceAllString(content, "")
	content = prClosePattern.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// ExtractPullRequest finds the first <pr_metadata .../> tag in content. It
// returns the decoded pull request (nil if there is no tag) and the content
// with the tag removed.
func ExtractPullRequest(content string) (*types.PullRequestPart, string) {
	loc := prTagPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return nil, content
	}

	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(content[loc[2]:loc[3]], -1) {
		attrs[m[1]] = xmlUnescaper.Replace(m[2])
	}

	rest := content[:loc[0]] + content[loc[1]:]
	rest = prClosePattern.ReplaceAllString(rest, "")

	return &types.PullRequestPart{
		URI:         attrs["uri"],
		Title:       attrs["title"],
		Description: attrs["description"],
		Author:      attrs["author"],
		LinkTag:     attrs["linkTag"],
	}, strings.TrimSpace(rest)
}

// FormatPullRequest renders pr as a self-closing pr_metadata tag.
func FormatPullRequest(pr *types.PullRequestPart) string {
	return `<pr_metadata uri="` + xmlEscaper.Replace(pr.URI) +
		`" title="` + xmlEscaper.Replace(pr.Title) +
		`" description="` + xmlEscaper.Replace(pr.Description) +
		`" author="` + xmlEscaper.Replace(pr.Author) +
		`" linkTag="` + xmlEscaper.Replace(pr.LinkTag) + `"/>`
}

package types

// Turn is one entry of a rebuilt chat transcript: a *RequestTurn or a *ResponseTurn.
type Turn interface {
	TurnType() string
}

// RequestTurn is a user prompt.
type RequestTurn struct {
	Prompt     string       `json:"prompt"`
	References []Attachment `json:"references,omitempty"`
}

func (t *RequestTurn) TurnType() string { return "request" }

// ResponseTurn groups everything the agent produced between two prompts.
type ResponseTurn struct {
	Parts []ResponsePart `json:"parts"`
}

func (t *ResponseTurn) TurnType() string { return "response" }

// ResponsePart is a component of a response.
type ResponsePart interface {
	PartType() string
}

// MarkdownPart is assistant text.
type MarkdownPart struct {
	Value string `json:"value"`
}

func (p *MarkdownPart) PartType() string { return "markdown" }

// ThinkingPart carries free-text reasoning progress. A part with Done set
// closes the thinking indicator.
type ThinkingPart struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

func (p *ThinkingPart) PartType() string { return "thinking" }

// PullRequestPart references a pull request created on the user's behalf.
type PullRequestPart struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	LinkTag     string `json:"linkTag"`
}

func (p *PullRequestPart) PartType() string { return "pullRequest" }

// ToolInvocation is the display record of a single tool call.
type ToolInvocation struct {
	ToolCallID        string         `json:"toolCallId"`
	ToolName          string         `json:"toolName"`
	Arguments         map[string]any `json:"arguments,omitempty"`
	IsComplete        bool           `json:"isComplete"`
	IsError           bool           `json:"isError"`
	IsConfirmed       *bool          `json:"isConfirmed,omitempty"`
	InvocationMessage string         `json:"invocationMessage"`
}

func (p *ToolInvocation) PartType() string { return "toolInvocation" }

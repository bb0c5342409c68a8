// Package types provides the core data types shared by the agent session packages.
package types

// SessionStatus is the state of a session's most recent request cycle.
// The zero value means the session has never run a request.
type SessionStatus string

const (
	StatusNone       SessionStatus = ""
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Idle reports whether the status allows the session to be collected.
func (s SessionStatus) Idle() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SessionMetadata describes a session persisted by the agent runtime.
type SessionMetadata struct {
	ID           string `json:"id"`
	StartTime    int64  `json:"startTime"`
	ModifiedTime int64  `json:"modifiedTime"`
}

// SessionTiming contains timestamps for a listed session.
type SessionTiming struct {
	Start int64 `json:"start"`
	End   int64 `json:"end,omitempty"`
}

// SessionSummary is a session as shown in session listings.
type SessionSummary struct {
	ID     string        `json:"id"`
	Label  string        `json:"label"`
	Status SessionStatus `json:"status,omitempty"`
	Timing SessionTiming `json:"timing"`
}

// FileDiff summarizes the change an edit made to a single file.
type FileDiff struct {
	Path       string `json:"path"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Additions  int    `json:"additions"`
	Deletions  int    `json:"deletions"`
}

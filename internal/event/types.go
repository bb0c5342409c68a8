package event

import "github.com/opencode-ai/cliagent/pkg/types"

// SessionsChangedData is the data for sessions.changed events.
type SessionsChangedData struct {
	SessionID string `json:"sessionID,omitempty"`
	Reason    string `json:"reason"` // "created" | "deleted" | "disposed" | "external"
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
}

// SessionDisposedData is the data for session.disposed events.
type SessionDisposedData struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason"`
}

// FileEditedData is the data for file.edited events.
type FileEditedData struct {
	SessionID string         `json:"sessionID,omitempty"`
	Diff      types.FileDiff `json:"diff"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	SessionID  string                  `json:"sessionID"`
	ToolCallID string                  `json:"toolCallId,omitempty"`
	Request    types.PermissionRequest `json:"request"`
}

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	SessionID string                     `json:"sessionID"`
	Result    types.PermissionResultKind `json:"result"`
}

package types

import (
	"encoding/json"
	"fmt"
)

// EventType identifies an entry in a session's event log.
type EventType string

const (
	EventUserMessage           EventType = "user.message"
	EventAssistantMessage      EventType = "assistant.message"
	EventToolExecutionStart    EventType = "tool.execution_start"
	EventToolExecutionComplete EventType = "tool.execution_complete"
	EventSessionError          EventType = "session.error"
)

// Event is one entry of the append-only event log owned by the agent runtime.
// Data holds one of the *Data payload types below, matching Type.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Data      any       `json:"data"`
}

// Attachment is a file reference sent along with a user message.
type Attachment struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName,omitempty"`
}

// UserMessageData is the payload of user.message events.
type UserMessageData struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// AssistantMessageData is the payload of assistant.message events.
type AssistantMessageData struct {
	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// ToolExecutionStartData is the payload of tool.execution_start events.
type ToolExecutionStartData struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// ToolError describes why a tool execution failed.
// Code is "rejected" or "denied" when the user refused the call.
type ToolError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ToolResult is the textual result of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
}

// ToolExecutionCompleteData is the payload of tool.execution_complete events.
type ToolExecutionCompleteData struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Success    bool           `json:"success"`
	Error      *ToolError     `json:"error,omitempty"`
	Result     *ToolResult    `json:"result,omitempty"`
}

// SessionErrorData is the payload of session.error events.
type SessionErrorData struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// UnmarshalJSON decodes Data into the payload type selected by Type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      EventType       `json:"type"`
		Timestamp int64           `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var payload any
	switch raw.Type {
	case EventUserMessage:
		payload = &UserMessageData{}
	case EventAssistantMessage:
		payload = &AssistantMessageData{}
	case EventToolExecutionStart:
		payload = &ToolExecutionStartData{}
	case EventToolExecutionComplete:
		payload = &ToolExecutionCompleteData{}
	case EventSessionError:
		payload = &SessionErrorData{}
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, payload); err != nil {
			return fmt.Errorf("decode %s: %w", raw.Type, err)
		}
	}

	e.ID = raw.ID
	e.Type = raw.Type
	e.Timestamp = raw.Timestamp
	e.Data = payload
	return nil
}

// NewUserMessage builds a user.message event.
func NewUserMessage(content string, attachments ...Attachment) Event {
	return Event{Type: EventUserMessage, Data: &UserMessageData{Content: content, Attachments: attachments}}
}

// NewAssistantMessage builds an assistant.message event.
func NewAssistantMessage(content string) Event {
	return Event{Type: EventAssistantMessage, Data: &AssistantMessageData{Content: content}}
}

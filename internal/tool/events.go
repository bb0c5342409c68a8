package tool

import (
	"github.com/opencode-ai/cliagent/pkg/types"
)

// Pending holds invocations started but not yet completed, keyed by tool
// call id. It is scoped to one request cycle or one history rebuild.
type Pending map[string]*types.ToolInvocation

// ProcessStart converts a tool.execution_start event into a response part.
// report_intent yields nil; think yields a *types.ThinkingPart that is never
// tracked for completion; everything else yields a *types.ToolInvocation that
// is stored in pending.
func ProcessStart(data *types.ToolExecutionStartData, pending Pending) types.ResponsePart {
	switch Lookup(data.ToolName) {
	case KindReportIntent:
		return nil
	case KindThink:
		return &types.ThinkingPart{
			ID:      data.ToolCallID,
			Content: InvocationMessage(data.ToolName, data.Arguments),
		}
	}

	inv := &types.ToolInvocation{
		ToolCallID:        data.ToolCallID,
		ToolName:          data.ToolName,
		Arguments:         data.Arguments,
		InvocationMessage: InvocationMessage(data.ToolName, data.Arguments),
	}
	pending[data.ToolCallID] = inv
	return inv
}

// ProcessComplete finalizes the invocation started for the same tool call
// id. Unknown ids yield nil.
func ProcessComplete(data *types.ToolExecutionCompleteData, pending Pending) *types.ToolInvocation {
	inv, ok := pending[data.ToolCallID]
	if !ok {
		return nil
	}
	delete(pending, data.ToolCallID)

	inv.IsComplete = true
	inv.IsError = data.Error != nil
	if data.Error != nil && data.Error.Message != "" {
		inv.InvocationMessage = data.Error.Message
	}

	confirmed := true
	if !data.Success && data.Error != nil && (data.Error.Code == "rejected" || data.Error.Code == "denied") {
		confirmed = false
	}
	inv.IsConfirmed = &confirmed
	return inv
}

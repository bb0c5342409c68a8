package permission

import (
	"context"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/cliagent/pkg/types"
)

// Action represents the configured action for a shell command pattern.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Handler is an external approver. It returns true to approve the request.
// toolCallID is empty when the request could not be correlated to a call.
type Handler func(ctx context.Context, req types.PermissionRequest, toolCallID string) (bool, error)

// DefaultConfirmEdits lists the workspace files that always need
// confirmation before they are edited.
var DefaultConfirmEdits = []string{
	"**/.git/**",
	"**/.vscode/*.json",
	"**/.env*",
}

// Policy holds the configurable parts of the permission decision.
type Policy struct {
	// ConfirmEdits are doublestar patterns, relative to the workspace folder,
	// of files whose edits need confirmation. Nil means DefaultConfirmEdits.
	ConfirmEdits []string
	// Shell maps command patterns ("git *", "ls") to actions.
	Shell map[string]Action
}

// NewPolicy builds a policy from configuration values.
func NewPolicy(cfg *types.PermissionConfig) Policy {
	if cfg == nil {
		return Policy{}
	}
	p := Policy{ConfirmEdits: cfg.ConfirmEdits}
	if len(cfg.Shell) > 0 {
		p.Shell = make(map[string]Action, len(cfg.Shell))
		for pattern, action := range cfg.Shell {
			p.Shell[pattern] = Action(action)
		}
	}
	return p
}

// RequiresConfirmation reports whether editing file (relative to root)
// needs explicit approval.
func (p Policy) RequiresConfirmation(root, file string) bool {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)

	patterns := p.ConfirmEdits
	if patterns == nil {
		patterns = DefaultConfirmEdits
	}
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// ShellAction returns the configured action for a parsed shell line. Every
// command in the line must be allowed for the line to be allowed; any denied
// command denies it. An empty policy or line asks.
func (p Policy) ShellAction(line *CommandLine) Action {
	if len(p.Shell) == 0 || line == nil || len(line.Commands) == 0 {
		return ActionAsk
	}

	result := ActionAllow
	for _, cmd := range line.Commands {
		switch cmd.match(p.Shell) {
		case ActionDeny:
			return ActionDeny
		case ActionAsk:
			result = ActionAsk
		}
	}
	return result
}

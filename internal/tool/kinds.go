// Package tool turns the agent runtime's tool execution events into display
// records. Known tools form a closed set of kinds, each paired with a
// formatter; anything else falls back to KindUnknown.
package tool

import (
	"fmt"
	"strings"
)

// Kind identifies a known agent tool.
type Kind int

const (
	KindUnknown Kind = iota
	KindView
	KindCreate
	KindEdit
	KindInsert
	KindUndoEdit
	KindStrReplaceEditor
	KindBash
	KindReadBash
	KindWriteBash
	KindStopBash
	KindListBash
	KindGlob
	KindGrep
	KindWebFetch
	KindUpdateTodo
	KindThink
	KindReportIntent
)

var kindsByName = map[string]Kind{
	"view":               KindView,
	"create":             KindCreate,
	"edit":               KindEdit,
	"str_replace":        KindEdit,
	"insert":             KindInsert,
	"undo_edit":          KindUndoEdit,
	"str_replace_editor": KindStrReplaceEditor,
	"bash":               KindBash,
	"read_bash":          KindReadBash,
	"write_bash":         KindWriteBash,
	"stop_bash":          KindStopBash,
	"list_bash":          KindListBash,
	"glob":               KindGlob,
	"grep":               KindGrep,
	"web_fetch":          KindWebFetch,
	"update_todo":        KindUpdateTodo,
	"think":              KindThink,
	"report_intent":      KindReportIntent,
}

// formatter renders the invocation message for a call.
type formatter func(name string, args map[string]any) string

type kindInfo struct {
	displayName string
	format      formatter
}

var kindInfos = [...]kindInfo{
	KindUnknown: {"", func(name string, _ map[string]any) string {
		return fmt.Sprintf("Used tool: %s", name)
	}},
	KindView: {"Read", func(_ string, args map[string]any) string {
		return viewMessage(args)
	}},
	KindCreate:   {"Create", func(_ string, args map[string]any) string { return createMessage(args) }},
	KindEdit:     {"Edit", func(_ string, args map[string]any) string { return editMessage(args) }},
	KindInsert:   {"Insert", func(_ string, args map[string]any) string { return insertMessage(args) }},
	KindUndoEdit: {"Undo Edit", func(_ string, args map[string]any) string { return undoMessage(args) }},
	KindStrReplaceEditor: {"Edit File", func(_ string, args map[string]any) string {
		switch stringArg(args, "command") {
		case "view":
			return viewMessage(args)
		case "create":
			return createMessage(args)
		case "insert":
			return insertMessage(args)
		case "undo_edit":
			return undoMessage(args)
		default:
			return editMessage(args)
		}
	}},
	KindBash: {"Run Shell Command", func(_ string, args map[string]any) string {
		command := stringArg(args, "command")
		if desc := stringArg(args, "description"); desc != "" {
			return fmt.Sprintf("%s: %s", desc, code(command))
		}
		return fmt.Sprintf("Ran %s", code(command))
	}},
	KindReadBash: {"Read Shell Output", func(string, map[string]any) string {
		return "Read shell output"
	}},
	KindWriteBash: {"Write Shell Input", func(_ string, args map[string]any) string {
		return fmt.Sprintf("Sent input %s to shell", code(stringArg(args, "input")))
	}},
	KindStopBash: {"Stop Shell", func(string, map[string]any) string {
		return "Stopped shell session"
	}},
	KindListBash: {"List Shells", func(string, map[string]any) string {
		return "Listed shell sessions"
	}},
	KindGlob: {"Find Files", func(_ string, args map[string]any) string {
		return fmt.Sprintf("Searched for files matching %s", code(stringArg(args, "pattern")))
	}},
	KindGrep: {"Search", func(_ string, args map[string]any) string {
		msg := fmt.Sprintf("Searched for %s", code(stringArg(args, "pattern")))
		if path := stringArg(args, "path"); path != "" {
			msg += " in " + code(path)
		}
		return msg
	}},
	KindWebFetch: {"Fetch", func(_ string, args map[string]any) string {
		return fmt.Sprintf("Fetched %s", stringArg(args, "url"))
	}},
	KindUpdateTodo: {"Update Todo", func(string, map[string]any) string {
		return "Updated todo list"
	}},
	KindThink: {"Thinking", func(_ string, args map[string]any) string {
		return stringArg(args, "thought")
	}},
	KindReportIntent: {"Report Intent", func(_ string, args map[string]any) string {
		return stringArg(args, "intent")
	}},
}

// Lookup returns the kind for a tool name, KindUnknown if it is not known.
func Lookup(name string) Kind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindUnknown
}

// DisplayName returns a human readable name for a tool.
func DisplayName(name string) string {
	if d := kindInfos[Lookup(name)].displayName; d != "" {
		return d
	}
	return name
}

// InvocationMessage formats the message shown for a call of the named tool.
func InvocationMessage(name string, args map[string]any) string {
	return kindInfos[Lookup(name)].format(name, args)
}

// IsEditTool reports whether a call modifies a file. Edits are tracked as
// file diffs rather than shown as invocation lines; the str_replace_editor
// "view" command is a read and does not count.
func IsEditTool(name string, args map[string]any) bool {
	switch Lookup(name) {
	case KindCreate, KindEdit, KindInsert, KindUndoEdit:
		return true
	case KindStrReplaceEditor:
		return stringArg(args, "command") != "view"
	default:
		return false
	}
}

// EditTarget returns the file an edit call targets.
func EditTarget(args map[string]any) string {
	return stringArg(args, "path")
}

func viewMessage(args map[string]any) string {
	path := stringArg(args, "path")
	if r, ok := args["view_range"].([]any); ok && len(r) == 2 {
		return fmt.Sprintf("Read %s, lines %v to %v", code(path), r[0], r[1])
	}
	return fmt.Sprintf("Read %s", code(path))
}

func createMessage(args map[string]any) string {
	return fmt.Sprintf("Created %s", code(stringArg(args, "path")))
}

func editMessage(args map[string]any) string {
	return fmt.Sprintf("Edited %s", code(stringArg(args, "path")))
}

func insertMessage(args map[string]any) string {
	return fmt.Sprintf("Inserted text into %s", code(stringArg(args, "path")))
}

func undoMessage(args map[string]any) string {
	return fmt.Sprintf("Undid edit in %s", code(stringArg(args, "path")))
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

func code(s string) string {
	if strings.Contains(s, "`") {
		return "``" + s + "``"
	}
	return "`" + s + "`"
}

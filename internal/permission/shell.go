package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one simple command of a shell line.
type Command struct {
	Name string
	Args []string
	// Sub is the first argument that is not a flag ("commit" in "git commit -m x").
	Sub string
}

// CommandLine is a parsed shell line: every simple command it runs,
// including those in pipelines, chains, subshells and substitutions, and the
// files its redirections write to.
type CommandLine struct {
	Commands []Command
	Writes   []string
}

// ParseCommandLine parses text as a bash command line.
func ParseCommandLine(text string) (*CommandLine, error) {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(text), "")
	if err != nil {
		return nil, fmt.Errorf("parse shell command: %w", err)
	}

	line := &CommandLine{}
	syntax.Walk(file, func(node syntax.Node) bool {
		stmt, ok := node.(*syntax.Stmt)
		if !ok {
			return true
		}
		for _, r := range stmt.Redirs {
			if r.Word != nil && writesFile(r.Op) {
				line.Writes = append(line.Writes, wordText(r.Word))
			}
		}
		if call, ok := stmt.Cmd.(*syntax.CallExpr); ok && len(call.Args) > 0 {
			if cmd, ok := newCommand(call.Args); ok {
				line.Commands = append(line.Commands, cmd)
			}
		}
		return true
	})
	return line, nil
}

func newCommand(words []*syntax.Word) (Command, bool) {
	cmd := Command{Name: wordText(words[0])}
	if cmd.Name == "" {
		return cmd, false
	}
	for _, w := range words[1:] {
		arg := wordText(w)
		cmd.Args = append(cmd.Args, arg)
		if cmd.Sub == "" && !strings.HasPrefix(arg, "-") {
			cmd.Sub = arg
		}
	}
	return cmd, true
}

func writesFile(op syntax.RedirOperator) bool {
	switch op {
	case syntax.RdrOut, syntax.AppOut, syntax.ClbOut, syntax.RdrAll, syntax.AppAll, syntax.RdrInOut:
		return true
	}
	return false
}

// wordText flattens a word. Expansions are kept as "$name" and "$()" so
// callers can tell the value is only known at run time.
func wordText(word *syntax.Word) string {
	var sb strings.Builder
	var walk func(parts []syntax.WordPart)
	walk = func(parts []syntax.WordPart) {
		for _, part := range parts {
			switch p := part.(type) {
			case *syntax.Lit:
				sb.WriteString(p.Value)
			case *syntax.SglQuoted:
				sb.WriteString(p.Value)
			case *syntax.DblQuoted:
				walk(p.Parts)
			case *syntax.ParamExp:
				sb.WriteString("$" + p.Param.Value)
			case *syntax.CmdSubst, *syntax.ProcSubst:
				sb.WriteString("$()")
			}
		}
	}
	walk(word.Parts)
	return sb.String()
}

// fileCommands change the file system or the directory later commands run
// in. Their operands must stay inside the session's folders before a shell
// allow rule applies.
var fileCommands = map[string]bool{
	"cd": true, "rm": true, "rmdir": true, "mv": true, "cp": true, "ln": true,
	"mkdir": true, "touch": true, "chmod": true, "chown": true, "dd": true,
	"tee": true, "truncate": true, "install": true,
}

// ModifiesFiles reports whether cmd is a file-system command.
func (c Command) ModifiesFiles() bool {
	return fileCommands[c.Name]
}

// Operands returns the path arguments of a file-system command.
func (c Command) Operands() []string {
	var out []string
	skipMode := c.Name == "chmod" || c.Name == "chown"
	flags := true
	for _, arg := range c.Args {
		if flags && arg == "--" {
			flags = false
			continue
		}
		if flags && strings.HasPrefix(arg, "-") && arg != "-" {
			continue
		}
		if skipMode {
			skipMode = false
			continue
		}
		if c.Name == "dd" {
			if path, ok := strings.CutPrefix(arg, "of="); ok {
				out = append(out, path)
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

var deviceFiles = map[string]bool{
	"/dev/null":   true,
	"/dev/stdout": true,
	"/dev/stderr": true,
}

// resolveOperand returns the absolute path of a shell operand relative to
// dir. ok is false when the path depends on expansion.
func resolveOperand(arg, dir string) (path string, ok bool) {
	if arg == "" || strings.HasPrefix(arg, "~") || strings.ContainsAny(arg, "$`*?[") {
		return "", false
	}
	if filepath.IsAbs(arg) {
		return filepath.Clean(arg), true
	}
	return filepath.Join(dir, arg), true
}

// match returns the action rules give cmd. Patterns are tried most specific
// first: "git commit *", "git *", then "git" (no arguments), then "*".
func (c Command) match(rules map[string]Action) Action {
	if c.Sub != "" {
		if action, ok := rules[c.Name+" "+c.Sub+" *"]; ok {
			return action
		}
	}
	if action, ok := rules[c.Name+" *"]; ok {
		return action
	}
	if len(c.Args) == 0 {
		if action, ok := rules[c.Name]; ok {
			return action
		}
	}
	if action, ok := rules["*"]; ok {
		return action
	}
	return ActionAsk
}

// Pattern is the rule an "always" approval of cmd records.
func (c Command) Pattern() string {
	if c.Sub != "" {
		return c.Name + " " + c.Sub + " *"
	}
	return c.Name + " *"
}

// Patterns returns the distinct patterns of the line's commands. cd is left
// out; its operand is checked on its own.
func (l *CommandLine) Patterns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, cmd := range l.Commands {
		if cmd.Name == "cd" {
			continue
		}
		if p := cmd.Pattern(); !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

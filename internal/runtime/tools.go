package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/cliagent/internal/edit"
	"github.com/opencode-ai/cliagent/internal/provider"
	"github.com/opencode-ai/cliagent/pkg/types"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
	MaxViewLines       = 2000
	MaxResults         = 100
)

// Tool error codes reported in tool.execution_complete events.
const (
	CodeDenied          = "denied"
	CodeInvalidArgument = "invalid_arguments"
	CodeFailure         = "failure"
	CodeUnknownTool     = "unknown_tool"
)

// toolEnv is what a built-in tool sees of its session.
type toolEnv struct {
	workDir string
	permit  func(ctx context.Context, req types.PermissionRequest) bool
}

func (e *toolEnv) resolve(path string) string {
	if path == "" {
		return e.workDir
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workDir, path)
}

type builtinTool struct {
	info provider.ToolInfo
	run  func(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError)
}

var builtinTools = []builtinTool{
	{
		info: provider.ToolInfo{
			Name:        "view",
			Description: "Read a file with line numbers, or list a directory.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File or directory path"},
					"view_range": {"type": "array", "description": "Optional [start, end] line range, 1-based; end -1 reads to the end"}
				},
				"required": ["path"]
			}`),
		},
		run: runView,
	},
	{
		info: provider.ToolInfo{
			Name:        "create",
			Description: "Create a file, or overwrite it, with the given content.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path"},
					"file_text": {"type": "string", "description": "Full file content"}
				},
				"required": ["path", "file_text"]
			}`),
		},
		run: runCreate,
	},
	{
		info: provider.ToolInfo{
			Name:        "edit",
			Description: "Replace one exact occurrence of old_str with new_str in a file.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path"},
					"old_str": {"type": "string", "description": "Text to replace; must occur exactly once"},
					"new_str": {"type": "string", "description": "Replacement text"}
				},
				"required": ["path", "old_str", "new_str"]
			}`),
		},
		run: runEdit,
	},
	{
		info: provider.ToolInfo{
			Name:        "bash",
			Description: "Run a shell command in the working directory and return its combined output.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "The command to run"},
					"description": {"type": "string", "description": "Short description of what the command does"},
					"timeout": {"type": "integer", "description": "Timeout in milliseconds (max 600000)"}
				},
				"required": ["command", "description"]
			}`),
		},
		run: runBash,
	},
	{
		info: provider.ToolInfo{
			Name:        "glob",
			Description: `Find files by glob pattern such as "**/*.go".`,
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "description": "Glob pattern"},
					"path": {"type": "string", "description": "Directory to search (default: working directory)"}
				},
				"required": ["pattern"]
			}`),
		},
		run: runGlob,
	},
	{
		info: provider.ToolInfo{
			Name:        "grep",
			Description: "Search file contents with a regular expression.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "description": "Regular expression"},
					"path": {"type": "string", "description": "Directory to search (default: working directory)"},
					"include": {"type": "string", "description": "Glob of files to search, e.g. \"**/*.go\""}
				},
				"required": ["pattern"]
			}`),
		},
		run: runGrep,
	},
	{
		info: provider.ToolInfo{
			Name:        "think",
			Description: "Think through a problem step by step. Has no side effects.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"thought": {"type": "string"}},
				"required": ["thought"]
			}`),
		},
		run: func(context.Context, *toolEnv, map[string]any) (string, *types.ToolError) {
			return "", nil
		},
	},
	{
		info: provider.ToolInfo{
			Name:        "report_intent",
			Description: "Report what you are about to do in a few words.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"intent": {"type": "string"}},
				"required": ["intent"]
			}`),
		},
		run: func(context.Context, *toolEnv, map[string]any) (string, *types.ToolError) {
			return "", nil
		},
	},
}

var builtinByName = func() map[string]*builtinTool {
	m := make(map[string]*builtinTool, len(builtinTools))
	for i := range builtinTools {
		m[builtinTools[i].info.Name] = &builtinTools[i]
	}
	return m
}()

func builtinToolInfos() []provider.ToolInfo {
	infos := make([]provider.ToolInfo, len(builtinTools))
	for i, t := range builtinTools {
		infos[i] = t.info
	}
	return infos
}

func runView(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError) {
	path := stringArg(args, "path")
	if path == "" {
		return "", invalid("path is required")
	}
	path = env.resolve(path)

	if !env.permit(ctx, types.PermissionRequest{Kind: types.PermissionRead, Path: path}) {
		return "", deniedError("read " + path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", failure(err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", failure(err)
		}
		var sb strings.Builder
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			sb.WriteString(name)
			sb.WriteByte('\n')
		}
		return sb.String(), nil
	}

	start, end := 1, -1
	if r, ok := args["view_range"].([]any); ok && len(r) == 2 {
		if v, ok := r[0].(float64); ok && v >= 1 {
			start = int(v)
		}
		if v, ok := r[1].(float64); ok {
			end = int(v)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", failure(err)
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line, shown := 0, 0
	for scanner.Scan() {
		line++
		if line < start || (end >= 0 && line > end) {
			continue
		}
		if shown == MaxViewLines {
			sb.WriteString("(File truncated)\n")
			break
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", line, scanner.Text())
		shown++
	}
	if err := scanner.Err(); err != nil {
		return "", failure(err)
	}
	return sb.String(), nil
}

func runCreate(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError) {
	path := stringArg(args, "path")
	if path == "" {
		return "", invalid("path is required")
	}
	text, ok := args["file_text"].(string)
	if !ok {
		return "", invalid("file_text is required")
	}
	path = env.resolve(path)

	before, err := readOptional(path)
	if err != nil {
		return "", failure(err)
	}

	if !env.permit(ctx, types.PermissionRequest{
		Kind:     types.PermissionWrite,
		FileName: path,
		Diff:     edit.UnifiedDiff(path, before, text),
	}) {
		return "", deniedError("write " + path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", failure(err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", failure(err)
	}
	return fmt.Sprintf("Created %s", path), nil
}

func runEdit(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError) {
	path := stringArg(args, "path")
	oldStr := stringArg(args, "old_str")
	newStr, _ := args["new_str"].(string)
	if path == "" || oldStr == "" {
		return "", invalid("path and old_str are required")
	}
	path = env.resolve(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", failure(err)
	}
	before := string(data)

	switch n := strings.Count(before, oldStr); n {
	case 0:
		return "", &types.ToolError{Code: CodeFailure, Message: "old_str not found in file"}
	case 1:
	default:
		return "", &types.ToolError{
			Code:    CodeFailure,
			Message: fmt.Sprintf("old_str occurs %d times; include more context to make it unique", n),
		}
	}
	after := strings.Replace(before, oldStr, newStr, 1)

	if !env.permit(ctx, types.PermissionRequest{
		Kind:     types.PermissionWrite,
		FileName: path,
		Diff:     edit.UnifiedDiff(path, before, after),
	}) {
		return "", deniedError("edit " + path)
	}

	if err := os.WriteFile(path, []byte(after), 0644); err != nil {
		return "", failure(err)
	}
	return fmt.Sprintf("Edited %s", path), nil
}

func runBash(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError) {
	command := stringArg(args, "command")
	if command == "" {
		return "", invalid("command is required")
	}
	description := stringArg(args, "description")
	intention := description
	if intention == "" {
		intention = command
	}

	if !env.permit(ctx, types.PermissionRequest{
		Kind:            types.PermissionShell,
		Intention:       intention,
		FullCommandText: command,
	}) {
		return "", deniedError("run " + command)
	}

	timeout := DefaultBashTimeout
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, shellPath(), "-c", command)
	cmd.Dir = env.workDir
	cmd.Env = os.Environ()
	cmd.WaitDelay = time.Second

	output, err := cmd.CombinedOutput()
	result := truncateOutput(string(output))

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
		return "", &types.ToolError{Code: CodeFailure, Message: result}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &types.ToolError{
				Code:    CodeFailure,
				Message: fmt.Sprintf("%s\n\n(exit code %d)", result, exitErr.ExitCode()),
			}
		}
		return "", failure(err)
	}
	return result, nil
}

func runGlob(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", invalid("pattern is required")
	}
	dir := env.resolve(stringArg(args, "path"))

	if !env.permit(ctx, types.PermissionRequest{Kind: types.PermissionRead, Path: dir}) {
		return "", deniedError("search " + dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return "", invalid(err.Error())
	}
	if len(matches) == 0 {
		return "No files matched the pattern", nil
	}
	sort.Strings(matches)

	truncated := len(matches) > MaxResults
	if truncated {
		matches = matches[:MaxResults]
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n\n(Showing first %d matches)", MaxResults)
	}
	return out, nil
}

func runGrep(ctx context.Context, env *toolEnv, args map[string]any) (string, *types.ToolError) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", invalid("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", invalid(err.Error())
	}
	include := stringArg(args, "include")
	dir := env.resolve(stringArg(args, "path"))

	if !env.permit(ctx, types.PermissionRequest{Kind: types.PermissionRead, Path: dir}) {
		return "", deniedError("search " + dir)
	}

	var results []string
	errFull := errors.New("full")
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		if include != "" {
			if ok, _ := doublestar.Match(include, rel); !ok {
				return nil
			}
		}
		return grepFile(path, rel, re, &results, errFull)
	})
	if walkErr != nil && !errors.Is(walkErr, errFull) {
		return "", failure(walkErr)
	}

	if len(results) == 0 {
		return "No matches found", nil
	}
	return strings.Join(results, "\n"), nil
}

func grepFile(path, rel string, re *regexp.Regexp, results *[]string, errFull error) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		*results = append(*results, fmt.Sprintf("%s:%d: %s", rel, line, text))
		if len(*results) >= MaxResults {
			return errFull
		}
	}
	return nil
}

// truncateOutput cuts s to at most MaxOutputLength bytes on a rune boundary.
func truncateOutput(s string) string {
	if len(s) <= MaxOutputLength {
		return s
	}
	cut := MaxOutputLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n(Output truncated)"
}

func shellPath() string {
	if path, err := exec.LookPath("bash"); err == nil {
		return path
	}
	return "sh"
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func invalid(msg string) *types.ToolError {
	return &types.ToolError{Code: CodeInvalidArgument, Message: msg}
}

func failure(err error) *types.ToolError {
	return &types.ToolError{Code: CodeFailure, Message: err.Error()}
}

func deniedError(action string) *types.ToolError {
	return &types.ToolError{Code: CodeDenied, Message: "The user denied permission to " + action}
}

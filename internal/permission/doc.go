// Package permission decides whether agent tool calls may proceed.
//
// A Broker serves one session. Reads inside the working directory or an open
// workspace folder are approved immediately. Writes are approved immediately
// when the session runs isolated in its own working directory, or when the
// file is in a workspace folder and does not match a ConfirmEdits pattern.
// Shell commands may be allowed or denied by configured patterns, and an
// allowed line is only approved on the spot when the files it may write
// (redirection targets and file-command operands) stay inside the session's
// folders:
//
//	"git *"        any git subcommand
//	"git commit *" git commit with any arguments
//	"ls"           ls without arguments
//	"*"            anything
//
// Everything else is negotiated with the attached Handler. When no handler is
// attached the broker waits for one; it denies when the context ends first.
// Handlers that fail are treated as a denial, so callers only ever see an
// approved or denied result.
//
// Write requests carry a file name but no tool call ID. The EditQueue pairs
// them with the edit tool calls that started for the same file, in start
// order, so that an approved edit can be tracked under its tool call.
//
// Prompter implements Handler for approvers that reply asynchronously, such
// as the HTTP server.
package permission

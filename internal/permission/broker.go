package permission

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/logging"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// EditTracker starts tracking an approved edit.
type EditTracker interface {
	TrackEdit(ctx context.Context, toolCallID, file string) error
}

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	SessionID        string
	WorkingDirectory string
	Isolation        bool
	Workspace        *workspace.Folders
	Policy           Policy
	Tracker          EditTracker
	Bus              *event.Bus

	// OnPendingChange is called after a negotiation starts or ends.
	OnPendingChange func(pending *types.PermissionRequest)
}

// Broker answers the permission requests of one session. Requests inside the
// working directory or workspace are approved on the spot; everything else is
// negotiated with the attached Handler.
type Broker struct {
	cfg   BrokerConfig
	edits *EditQueue
	log   zerolog.Logger

	mu        sync.Mutex
	handler   Handler
	handlerID uint64
	attached  chan struct{}
	pending   *types.PermissionRequest
}

// NewBroker creates a broker.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.WorkingDirectory != "" {
		if abs, err := filepath.Abs(cfg.WorkingDirectory); err == nil {
			cfg.WorkingDirectory = abs
		}
	}
	return &Broker{
		cfg:      cfg,
		edits:    NewEditQueue(),
		log:      logging.Component("permission").With().Str("session", cfg.SessionID).Logger(),
		attached: make(chan struct{}),
	}
}

// Edits returns the edit correlation queue.
func (b *Broker) Edits() *EditQueue {
	return b.edits
}

// RecordEdit queues an edit tool call for file.
func (b *Broker) RecordEdit(file, toolCallID string) {
	b.edits.Record(b.resolve(file), toolCallID)
}

// ForgetEdit drops a queued edit that finished without a permission request.
func (b *Broker) ForgetEdit(toolCallID string) {
	b.edits.Remove(toolCallID)
}

// Attach installs the external approver. The last attach wins; the returned
// func detaches it if it is still the current handler.
func (b *Broker) Attach(h Handler) (detach func()) {
	b.mu.Lock()
	b.handlerID++
	id := b.handlerID
	b.handler = h
	select {
	case <-b.attached:
	default:
		close(b.attached)
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.handlerID != id || b.handler == nil {
			return
		}
		b.handler = nil
		b.attached = make(chan struct{})
	}
}

// HasHandler reports whether a handler is attached.
func (b *Broker) HasHandler() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler != nil
}

// Pending returns the request being negotiated, if any.
func (b *Broker) Pending() *types.PermissionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return nil
	}
	p := *b.pending
	return &p
}

// Request decides a permission request. It never fails: every path ends in
// approved or denied.
func (b *Broker) Request(ctx context.Context, req types.PermissionRequest) types.PermissionResult {
	switch req.Kind {
	case types.PermissionRead:
		return b.read(ctx, req)
	case types.PermissionWrite:
		return b.write(ctx, req)
	case types.PermissionShell:
		return b.shell(ctx, req)
	}
	return b.negotiate(ctx, req, "")
}

func (b *Broker) read(ctx context.Context, req types.PermissionRequest) types.PermissionResult {
	path := b.resolve(req.Path)
	if b.inWorkingDirectory(path) || b.cfg.Workspace.Contains(path) {
		b.log.Debug().Str("path", path).Msg("read auto-approved")
		return approved()
	}
	return b.negotiate(ctx, req, "")
}

func (b *Broker) write(ctx context.Context, req types.PermissionRequest) types.PermissionResult {
	file := b.resolve(req.FileName)
	toolCallID, _ := b.edits.Next(file)

	if b.cfg.Isolation && b.cfg.WorkingDirectory != "" &&
		!b.cfg.Workspace.IsFolder(b.cfg.WorkingDirectory) && b.inWorkingDirectory(file) {
		b.log.Debug().Str("file", file).Str("toolCallID", toolCallID).Msg("isolated write auto-approved")
		b.track(ctx, toolCallID, file)
		return approved()
	}

	if root, ok := b.cfg.Workspace.Folder(file); ok && !b.cfg.Policy.RequiresConfirmation(root, file) {
		b.log.Debug().Str("file", file).Str("toolCallID", toolCallID).Msg("workspace write auto-approved")
		b.track(ctx, toolCallID, file)
		return approved()
	}

	result := b.negotiate(ctx, req, toolCallID)
	if result.Approved() {
		b.track(ctx, toolCallID, file)
	}
	return result
}

func (b *Broker) shell(ctx context.Context, req types.PermissionRequest) types.PermissionResult {
	text := req.FullCommandText
	line, err := ParseCommandLine(text)
	if err != nil {
		b.log.Debug().Err(err).Str("command", text).Msg("shell command not parseable")
		return b.negotiate(ctx, req, "")
	}

	switch b.cfg.Policy.ShellAction(line) {
	case ActionAllow:
		if b.shellPathsContained(line) {
			b.log.Debug().Str("command", text).Msg("shell command allowed by policy")
			return approved()
		}
	case ActionDeny:
		b.log.Debug().Str("command", text).Msg("shell command denied by policy")
		return denied()
	}
	return b.negotiate(ctx, req, "")
}

// shellPathsContained reports whether every path the line may write stays
// inside the working directory or workspace. A cd moves the directory later
// operands resolve against.
func (b *Broker) shellPathsContained(line *CommandLine) bool {
	for _, target := range line.Writes {
		if deviceFiles[target] {
			continue
		}
		if !b.operandContained(target, b.cfg.WorkingDirectory) {
			return false
		}
	}

	dir := b.cfg.WorkingDirectory
	for _, cmd := range line.Commands {
		if !cmd.ModifiesFiles() {
			continue
		}
		for _, arg := range cmd.Operands() {
			if !b.operandContained(arg, dir) {
				return false
			}
		}
		if ops := cmd.Operands(); cmd.Name == "cd" && len(ops) > 0 {
			dir, _ = resolveOperand(ops[0], dir)
		}
	}
	return true
}

func (b *Broker) operandContained(arg, dir string) bool {
	path, ok := resolveOperand(arg, dir)
	if !ok || !filepath.IsAbs(path) {
		return false
	}
	return b.inWorkingDirectory(path) || b.cfg.Workspace.Contains(path)
}

func (b *Broker) negotiate(ctx context.Context, req types.PermissionRequest, toolCallID string) types.PermissionResult {
	b.setPending(&req)
	defer b.setPending(nil)

	if b.cfg.Bus != nil {
		b.cfg.Bus.Publish(event.Event{
			Type: event.PermissionRequired,
			Data: event.PermissionRequiredData{
				SessionID:  b.cfg.SessionID,
				ToolCallID: toolCallID,
				Request:    req,
			},
		})
	}

	result := b.ask(ctx, req, toolCallID)

	if b.cfg.Bus != nil {
		b.cfg.Bus.Publish(event.Event{
			Type: event.PermissionReplied,
			Data: event.PermissionRepliedData{
				SessionID: b.cfg.SessionID,
				Result:    result.Kind,
			},
		})
	}
	return result
}

func (b *Broker) ask(ctx context.Context, req types.PermissionRequest, toolCallID string) types.PermissionResult {
	handler := b.waitHandler(ctx)
	if handler == nil {
		b.log.Debug().Str("kind", string(req.Kind)).Msg("no permission handler, denying")
		return denied()
	}

	ok, err := handler(ctx, req, toolCallID)
	if err != nil {
		b.log.Warn().Err(err).Str("kind", string(req.Kind)).Msg("permission handler failed")
		return denied()
	}
	if !ok {
		return denied()
	}
	return approved()
}

// waitHandler returns the attached handler, blocking until one is attached
// or ctx is done.
func (b *Broker) waitHandler(ctx context.Context) Handler {
	b.mu.Lock()
	if b.handler != nil {
		h := b.handler
		b.mu.Unlock()
		return h
	}
	ch := b.attached
	b.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

func (b *Broker) setPending(req *types.PermissionRequest) {
	b.mu.Lock()
	b.pending = req
	b.mu.Unlock()

	if b.cfg.OnPendingChange != nil {
		b.cfg.OnPendingChange(req)
	}
}

func (b *Broker) track(ctx context.Context, toolCallID, file string) {
	if toolCallID == "" || b.cfg.Tracker == nil {
		return
	}
	if err := b.cfg.Tracker.TrackEdit(ctx, toolCallID, file); err != nil {
		b.log.Warn().Err(err).Str("file", file).Msg("failed to track edit")
	}
}

func (b *Broker) inWorkingDirectory(path string) bool {
	return b.cfg.WorkingDirectory != "" && workspace.Within(b.cfg.WorkingDirectory, path)
}

func (b *Broker) resolve(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) && b.cfg.WorkingDirectory != "" {
		path = filepath.Join(b.cfg.WorkingDirectory, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func approved() types.PermissionResult {
	return types.PermissionResult{Kind: types.PermissionApproved}
}

func denied() types.PermissionResult {
	return types.PermissionResult{Kind: types.PermissionDenied}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/logging"
	"github.com/opencode-ai/cliagent/internal/permission"
	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

const (
	// DefaultIdleTimeout is how long a finished session stays in memory.
	DefaultIdleTimeout = 5 * time.Minute

	// listConcurrency bounds the event logs loaded at once by AllSessions.
	listConcurrency = 8
)

// ErrServiceClosed is returned after Close.
var ErrServiceClosed = errors.New("session service closed")

// Config configures a Service.
type Config struct {
	Runtime runtime.Runtime
	// Bus receives sessions.changed and session events. NewService creates
	// one when nil.
	Bus              *event.Bus
	WorkingDirectory string
	Isolation        bool
	Workspace        *workspace.Folders
	Policy           permission.Policy
	IdleTimeout      time.Duration
}

// Options configure one created or resumed session.
type Options struct {
	// Model is a "provider/model" reference; empty keeps the runtime's choice.
	Model string
	// WorkingDirectory overrides Config.WorkingDirectory.
	WorkingDirectory string
}

type unpersisted struct {
	prompt  string
	created int64
}

// Service owns the live sessions of the process. Sessions are shared
// between callers and reference counted; at most one GetSession per id
// talks to the runtime at a time.
type Service struct {
	cfg   Config
	log   zerolog.Logger
	locks *keyedMutex
	list  singleflight.Group
	watch event.Subscription

	mu       sync.Mutex
	sessions map[string]*RefCounted
	timers   map[string]*time.Timer
	fresh    map[string]unpersisted
	closed   bool
}

// NewService creates a service over cfg.Runtime. If the runtime reports
// external changes they are forwarded as sessions.changed events.
func NewService(cfg Config) *Service {
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	s := &Service{
		cfg:      cfg,
		log:      logging.Component("session-service"),
		locks:    newKeyedMutex(),
		sessions: make(map[string]*RefCounted),
		timers:   make(map[string]*time.Timer),
		fresh:    make(map[string]unpersisted),
	}

	if n, ok := cfg.Runtime.(runtime.ChangeNotifier); ok {
		sub, err := n.OnDidChange(func(id string) {
			s.changed(id, "external")
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("runtime change notifications unavailable")
		} else {
			s.watch = sub
		}
	}
	return s
}

// Bus returns the event bus the service publishes to.
func (s *Service) Bus() *event.Bus {
	return s.cfg.Bus
}

// OnDidChangeSessions registers fn for session creation, deletion and
// disposal.
func (s *Service) OnDidChangeSessions(fn func(event.SessionsChangedData)) event.Subscription {
	return s.cfg.Bus.Subscribe(event.SessionsChanged, func(ev event.Event) {
		if data, ok := ev.Data.(event.SessionsChangedData); ok {
			fn(data)
		}
	})
}

// CreateSession starts a new runtime session. The caller holds the
// returned reference and must Release it. prompt labels the session in
// listings until the runtime has stored it.
func (s *Service) CreateSession(ctx context.Context, prompt string, opts Options) (*RefCounted, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}

	agent, err := s.cfg.Runtime.CreateSession(ctx, s.runtimeOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	ref := s.track(agent, opts)

	s.mu.Lock()
	s.fresh[agent.ID()] = unpersisted{prompt: prompt, created: time.Now().UnixMilli()}
	s.mu.Unlock()

	s.log.Info().Str("session", agent.ID()).Msg("session created")
	s.changed(agent.ID(), "created")
	return ref, nil
}

// GetSession returns the live session with id, or resumes it from the
// runtime. It returns (nil, nil) when the runtime has no such session and
// ctx.Err() when ctx ends while waiting for another GetSession of the same
// id.
func (s *Service) GetSession(ctx context.Context, id string, opts Options) (*RefCounted, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}

	release, ok := s.locks.Acquire(ctx, id)
	if !ok {
		return nil, ctx.Err()
	}
	defer release()

	s.mu.Lock()
	ref := s.sessions[id]
	s.mu.Unlock()
	if ref != nil && ref.acquire() {
		s.scheduleIdle(ref)
		return ref, nil
	}

	agent, err := s.cfg.Runtime.GetSession(ctx, id, s.runtimeOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if agent == nil {
		return nil, nil
	}

	s.log.Debug().Str("session", id).Msg("session resumed")
	return s.track(agent, opts), nil
}

// AllSessions lists stored sessions and sessions created in this process
// that the runtime has not stored yet, with the live status of sessions in
// memory. Sessions whose event log cannot be read are left out. Concurrent
// calls share one listing.
func (s *Service) AllSessions(ctx context.Context) ([]types.SessionSummary, error) {
	ch := s.list.DoChan("all", func() (any, error) {
		return s.allSessions(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]types.SessionSummary)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) allSessions(ctx context.Context) ([]types.SessionSummary, error) {
	metas, err := s.cfg.Runtime.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	s.mu.Lock()
	fresh := make(map[string]unpersisted, len(s.fresh))
	for id, u := range s.fresh {
		fresh[id] = u
	}
	live := make(map[string]types.SessionStatus, len(s.sessions))
	for id, ref := range s.sessions {
		live[id] = ref.Status()
	}
	s.mu.Unlock()

	listed := make([]*types.SessionSummary, len(metas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, meta := range metas {
		if _, ok := fresh[meta.ID]; ok {
			continue
		}
		g.Go(func() error {
			events, err := s.cfg.Runtime.LoadEvents(gctx, meta.ID)
			if err != nil {
				s.log.Warn().Err(err).Str("session", meta.ID).Msg("skipping unreadable session")
				return nil
			}
			label := Label(events)
			if label == "" {
				label = meta.ID
			}
			listed[i] = &types.SessionSummary{
				ID:     meta.ID,
				Label:  label,
				Status: live[meta.ID],
				Timing: types.SessionTiming{Start: meta.StartTime, End: meta.ModifiedTime},
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]types.SessionSummary, 0, len(metas)+len(fresh))
	var pending []types.SessionSummary
	for id, u := range fresh {
		label := labelFromPrompt(u.prompt)
		if label == "" {
			label = id
		}
		pending = append(pending, types.SessionSummary{
			ID:     id,
			Label:  label,
			Status: live[id],
			Timing: types.SessionTiming{Start: u.created},
		})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Timing.Start > pending[j].Timing.Start })
	out = append(out, pending...)

	for _, summary := range listed {
		if summary != nil {
			out = append(out, *summary)
		}
	}
	return out, nil
}

// DeleteSession disposes the live session with id and deletes it from the
// runtime. It waits for a GetSession of the same id to finish first.
// sessions.changed is published even when deletion fails.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	release, ok := s.locks.Acquire(ctx, id)
	if !ok {
		return ctx.Err()
	}
	defer release()

	s.mu.Lock()
	ref := s.sessions[id]
	s.forgetLocked(id)
	s.mu.Unlock()

	defer s.changed(id, "deleted")

	if ref != nil {
		if err := ref.dispose(); err != nil {
			s.log.Warn().Err(err).Str("session", id).Msg("failed to dispose session")
		}
	}

	if err := s.cfg.Runtime.DeleteSession(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("session", id).Msg("failed to delete session")
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	s.log.Info().Str("session", id).Msg("session deleted")
	return nil
}

// Live returns the ids of the sessions held in memory.
func (s *Service) Live() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close disposes every live session. The service cannot be used afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	refs := make([]*RefCounted, 0, len(s.sessions))
	for id, ref := range s.sessions {
		refs = append(refs, ref)
		s.forgetLocked(id)
	}
	s.mu.Unlock()

	if s.watch != nil {
		s.watch.Unsubscribe()
	}

	var errs []error
	for _, ref := range refs {
		if err := ref.dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) runtimeOptions(opts Options) runtime.Options {
	dir := opts.WorkingDirectory
	if dir == "" {
		dir = s.cfg.WorkingDirectory
	}
	return runtime.Options{Model: opts.Model, WorkingDirectory: dir}
}

// track wraps agent in a new reference held once by the caller.
func (s *Service) track(agent runtime.AgentSession, opts Options) *RefCounted {
	dir := opts.WorkingDirectory
	if dir == "" {
		dir = s.cfg.WorkingDirectory
	}
	sess := newSession(agent, sessionConfig{
		workingDirectory: dir,
		isolation:        s.cfg.Isolation,
		workspace:        s.cfg.Workspace,
		policy:           s.cfg.Policy,
		bus:              s.cfg.Bus,
	})
	ref := newRefCounted(sess, s.released)
	sess.OnDidChangeStatus(func(types.SessionStatus) {
		s.scheduleIdle(ref)
	})

	s.mu.Lock()
	s.sessions[agent.ID()] = ref
	s.mu.Unlock()
	return ref
}

// scheduleIdle restarts the idle countdown of ref when it is finished and
// not waiting for a permission, and stops it otherwise.
func (s *Service) scheduleIdle(ref *RefCounted) {
	status := ref.Status()
	waiting := ref.PendingPermission() != nil

	s.mu.Lock()
	defer s.mu.Unlock()

	id := ref.ID()
	if s.sessions[id] != ref {
		return
	}
	if t := s.timers[id]; t != nil {
		t.Stop()
		delete(s.timers, id)
	}
	if !status.Idle() || waiting {
		return
	}

	// A finished request cycle means the runtime has stored the session.
	delete(s.fresh, id)

	var t *time.Timer
	t = time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.expire(ref, t)
	})
	s.timers[id] = t
}

func (s *Service) expire(ref *RefCounted, t *time.Timer) {
	s.mu.Lock()
	id := ref.ID()
	if s.timers[id] != t || s.sessions[id] != ref {
		s.mu.Unlock()
		return
	}
	s.forgetLocked(id)
	s.mu.Unlock()

	s.log.Debug().Str("session", id).Msg("disposing idle session")
	s.disposeRef(ref, "idle")
}

// released runs when the last holder of ref releases it.
func (s *Service) released(ref *RefCounted) {
	s.mu.Lock()
	id := ref.ID()
	owned := s.sessions[id] == ref
	if owned {
		s.forgetLocked(id)
	}
	s.mu.Unlock()

	if !owned {
		// Already disposed by DeleteSession, idle expiry or Close.
		_ = ref.dispose()
		return
	}
	s.disposeRef(ref, "released")
}

func (s *Service) disposeRef(ref *RefCounted, reason string) {
	if err := ref.dispose(); err != nil {
		s.log.Warn().Err(err).Str("session", ref.ID()).Msg("failed to dispose session")
	}
	s.cfg.Bus.Publish(event.Event{
		Type: event.SessionDisposed,
		Data: event.SessionDisposedData{SessionID: ref.ID(), Reason: reason},
	})
	s.changed(ref.ID(), "disposed")
}

// forgetLocked drops every record of id. Callers hold s.mu.
func (s *Service) forgetLocked(id string) {
	delete(s.sessions, id)
	delete(s.fresh, id)
	if t := s.timers[id]; t != nil {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) changed(id, reason string) {
	s.cfg.Bus.Publish(event.Event{
		Type: event.SessionsChanged,
		Data: event.SessionsChangedData{SessionID: id, Reason: reason},
	})
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

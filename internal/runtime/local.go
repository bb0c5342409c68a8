package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/logging"
	"github.com/opencode-ai/cliagent/internal/provider"
	"github.com/opencode-ai/cliagent/internal/storage"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// ModelSource resolves model references to providers. *provider.Registry
// implements it.
type ModelSource interface {
	Resolve(ref string) (provider.Provider, string, error)
	DefaultModel() string
}

// Local is a Runtime that keeps sessions in file storage and runs them
// against Eino chat models. Session metadata lives under "session/<id>" and
// the event log under "events/<id>". A new session is written to storage
// with its first event.
type Local struct {
	store   *storage.Storage
	models  ModelSource
	workDir string
	log     zerolog.Logger
}

var (
	_ Runtime        = (*Local)(nil)
	_ ChangeNotifier = (*Local)(nil)
)

// NewLocal creates a local runtime. workDir is the default working directory
// of sessions created without one.
func NewLocal(store *storage.Storage, models ModelSource, workDir string) *Local {
	return &Local{
		store:   store,
		models:  models,
		workDir: workDir,
		log:     logging.Component("runtime"),
	}
}

func (l *Local) CreateSession(ctx context.Context, opts Options) (AgentSession, error) {
	now := time.Now().UnixMilli()
	record := sessionRecord{
		ID:               ulid.Make().String(),
		StartTime:        now,
		ModifiedTime:     now,
		WorkingDirectory: opts.WorkingDirectory,
	}
	s := newLocalSession(l, record, false)
	if opts.Model != "" {
		if err := s.SetSelectedModel(ctx, opts.Model); err != nil {
			return nil, err
		}
	}
	l.log.Debug().Str("session", record.ID).Msg("session created")
	return s, nil
}

func (l *Local) GetSession(ctx context.Context, id string, opts Options) (AgentSession, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var record sessionRecord
	if err := l.store.Get(ctx, []string{"session", id}, &record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if opts.WorkingDirectory != "" {
		record.WorkingDirectory = opts.WorkingDirectory
	}

	s := newLocalSession(l, record, true)
	if opts.Model != "" {
		if err := s.SetSelectedModel(ctx, opts.Model); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ListSessions returns persisted sessions, most recently modified first.
// Records that cannot be decoded are skipped.
func (l *Local) ListSessions(ctx context.Context) ([]types.SessionMetadata, error) {
	var out []types.SessionMetadata
	err := l.store.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var record sessionRecord
		if err := json.Unmarshal(data, &record); err != nil || checkID(record.ID) != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("skipping unreadable session")
			return nil
		}
		out = append(out, types.SessionMetadata{
			ID:           record.ID,
			StartTime:    record.StartTime,
			ModifiedTime: record.ModifiedTime,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedTime > out[j].ModifiedTime })
	return out, nil
}

func (l *Local) DeleteSession(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := l.store.Delete(ctx, []string{"events", id}); err != nil {
		return err
	}
	return l.store.Delete(ctx, []string{"session", id})
}

// LoadEvents reads the event log of a session. A session without a log has
// no events.
func (l *Local) LoadEvents(ctx context.Context, id string) ([]types.Event, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var events []types.Event
	err := l.store.ReadLog(ctx, []string{"events", id}, func(line json.RawMessage) error {
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", id, err)
	}
	return events, nil
}

// OnDidChange reports session ids created, updated or removed in storage,
// including by other processes.
func (l *Local) OnDidChange(fn func(sessionID string)) (event.Subscription, error) {
	w, err := l.store.Watch([]string{"session"}, fn)
	if err != nil {
		return nil, err
	}
	return event.UnsubscribeFunc(func() {
		if err := w.Close(); err != nil {
			l.log.Debug().Err(err).Msg("closing session watcher")
		}
	}), nil
}

// ErrInvalidSessionID is returned for ids Local could not have issued.
var ErrInvalidSessionID = errors.New("invalid session id")

// checkID rejects anything but a ULID, so ids are safe storage path segments.
func checkID(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidSessionID, id)
	}
	return nil
}

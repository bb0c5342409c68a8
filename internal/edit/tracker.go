// Package edit tracks the file changes made by agent edit tool calls.
package edit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/pkg/types"
)

type tracked struct {
	file   string
	before string
}

// Tracker snapshots a file when an edit is approved and diffs it when the
// edit tool call completes.
type Tracker struct {
	sessionID string
	bus       *event.Bus

	mu     sync.Mutex
	active map[string]tracked // toolCallID -> snapshot
	diffs  []types.FileDiff
}

// NewTracker creates a tracker for one session. bus may be nil.
func NewTracker(sessionID string, bus *event.Bus) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		bus:       bus,
		active:    make(map[string]tracked),
	}
}

// TrackEdit records the current content of file for the given tool call.
// A file that does not exist yet is tracked as empty.
func (t *Tracker) TrackEdit(ctx context.Context, toolCallID, file string) error {
	before, err := readFile(file)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", file, err)
	}

	t.mu.Lock()
	t.active[toolCallID] = tracked{file: file, before: before}
	t.mu.Unlock()
	return nil
}

// CompleteEdit finishes tracking for toolCallID. It returns false when no
// edit was tracked for the call, which is the common case for non-edit tools.
func (t *Tracker) CompleteEdit(toolCallID string) (types.FileDiff, bool) {
	t.mu.Lock()
	snap, ok := t.active[toolCallID]
	delete(t.active, toolCallID)
	t.mu.Unlock()
	if !ok {
		return types.FileDiff{}, false
	}

	after, err := readFile(snap.file)
	if err != nil {
		after = ""
	}

	additions, deletions := CountChanges(snap.before, after)
	diff := types.FileDiff{
		Path:       snap.file,
		ToolCallID: toolCallID,
		Additions:  additions,
		Deletions:  deletions,
	}

	t.mu.Lock()
	t.diffs = append(t.diffs, diff)
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(event.Event{
			Type: event.FileEdited,
			Data: event.FileEditedData{SessionID: t.sessionID, Diff: diff},
		})
	}
	return diff, true
}

// Pending reports whether an edit is being tracked for toolCallID.
func (t *Tracker) Pending(toolCallID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[toolCallID]
	return ok
}

// Diffs returns the completed edits in completion order.
func (t *Tracker) Diffs() []types.FileDiff {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.FileDiff, len(t.diffs))
	copy(out, t.diffs)
	return out
}

// CountChanges returns the number of added and deleted lines between two
// versions of a file.
func CountChanges(before, after string) (int, int) {
	if before == after {
		return 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}
	return additions, deletions
}

// UnifiedDiff renders a patch between two versions of path.
func UnifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, after)
	text := dmp.PatchToText(patches)
	if text == "" {
		return ""
	}
	return fmt.Sprintf("--- %s\n+++ %s\n%s", path, path, text)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

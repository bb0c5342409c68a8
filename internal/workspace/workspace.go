// Package workspace answers folder membership questions for the open
// workspace.
package workspace

import (
	"path/filepath"
	"strings"
)

// Folders is the set of workspace folders, stored as cleaned absolute paths.
type Folders struct {
	roots []string
}

// New creates a workspace from the given folder paths. Relative paths are
// resolved against the current directory; empty entries are skipped.
func New(folders ...string) *Folders {
	w := &Folders{}
	for _, f := range folders {
		if f == "" {
			continue
		}
		w.roots = append(w.roots, normalize(f))
	}
	return w
}

// Roots returns the workspace folders.
func (w *Folders) Roots() []string {
	if w == nil {
		return nil
	}
	out := make([]string, len(w.roots))
	copy(out, w.roots)
	return out
}

// Contains reports whether path is inside (or equal to) any workspace folder.
func (w *Folders) Contains(path string) bool {
	if w == nil || path == "" {
		return false
	}
	p := normalize(path)
	for _, root := range w.roots {
		if Within(root, p) {
			return true
		}
	}
	return false
}

// Folder returns the workspace folder containing path.
func (w *Folders) Folder(path string) (string, bool) {
	if w == nil || path == "" {
		return "", false
	}
	p := normalize(path)
	for _, root := range w.roots {
		if Within(root, p) {
			return root, true
		}
	}
	return "", false
}

// IsFolder reports whether path is itself one of the workspace folders.
func (w *Folders) IsFolder(path string) bool {
	if w == nil || path == "" {
		return false
	}
	p := normalize(path)
	for _, root := range w.roots {
		if root == p {
			return true
		}
	}
	return false
}

// Within reports whether path is root or a descendant of root. Both are
// expected to be cleaned absolute paths.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

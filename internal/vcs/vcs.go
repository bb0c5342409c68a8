// Package vcs provides the version control operations used by isolated
// sessions.
package vcs

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"

	"github.com/opencode-ai/cliagent/internal/logging"
)

// IsRepo reports whether path is inside a git repository.
func IsRepo(path string) bool {
	_, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	return err == nil
}

// Branch returns the current branch name, or the short hash when HEAD is
// detached. Returns "" outside a repository.
func Branch(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return head.Hash().String()[:8]
}

// StageAll stages every change in the working tree, like `git add -A`.
func StageAll(dir string) error {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage all: %w", err)
	}

	logging.Debug().Str("dir", dir).Msg("staged working tree changes")
	return nil
}

// ModifiedFiles returns the files with staged or unstaged changes, sorted.
func ModifiedFiles(dir string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var files []string
	for file, st := range status {
		if st.Staging != git.Unmodified || st.Worktree != git.Unmodified {
			files = append(files, file)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Staged returns the files currently staged in the index, sorted.
func Staged(dir string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var files []string
	for file, st := range status {
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			files = append(files, file)
		}
	}
	sort.Strings(files)
	return files, nil
}

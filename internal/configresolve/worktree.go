package configresolve

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitDir returns the actual .git directory for the current repository. In
// a worktree, .git is a file pointing at the real git dir elsewhere, so
// this shells out to git rather than assuming filepath.Join(root, ".git").
func gitDir() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func gitDirNoError(arg string) string {
	cmd := exec.Command("git", "rev-parse", arg)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// isWorktree reports whether the current directory is a linked worktree,
// determined by comparing --git-dir against --git-common-dir.
func isWorktree() bool {
	git := gitDirNoError("--git-dir")
	if git == "" {
		return false
	}
	common := gitDirNoError("--git-common-dir")
	if common == "" {
		return false
	}
	absGit, err1 := filepath.Abs(git)
	absCommon, err2 := filepath.Abs(common)
	if err1 != nil || err2 != nil {
		return false
	}
	return absGit != absCommon
}

// mainRepoRoot returns the main repository root. From inside a linked
// worktree this is the checkout the worktree was created from, not the
// worktree's own directory; outside a worktree it is simply the repo root.
func mainRepoRoot() (string, error) {
	if !isWorktree() {
		dir, err := gitDir()
		if err != nil {
			return "", err
		}
		return filepath.Dir(dir), nil
	}

	common := gitDirNoError("--git-common-dir")
	if common == "" {
		return "", fmt.Errorf("unable to determine main repository root")
	}
	if info, err := os.Stat(common); err == nil && info.IsDir() {
		absCommon, err := filepath.Abs(common)
		if err != nil {
			return "", err
		}
		return filepath.Dir(absCommon), nil
	}
	return "", fmt.Errorf("unable to determine main repository root")
}

// localRoot returns the root of the checkout the process is running in
// (the worktree root when in a worktree, the repo root otherwise).
func localRoot() (string, error) {
	dir := gitDirNoError("--show-toplevel")
	if dir == "" {
		return "", fmt.Errorf("not a git repository")
	}
	return dir, nil
}

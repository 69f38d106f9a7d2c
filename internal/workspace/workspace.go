// Package workspace prepares per-job source checkouts. Every job gets
// its own directory fetched at the exact commit under verification, so
// concurrent jobs never share working trees.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/toolchain"
)

type Manager struct {
	root   string
	runner toolchain.CommandRunner
}

func NewManager(root string, runner toolchain.CommandRunner) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root, runner: runner}, nil
}

// Prepare checks out the job's commit into a fresh directory and
// returns its path. The commit is fetched directly rather than via the
// branch ref, so pull request head commits resolve the same way push
// commits do. A failed prepare leaves no directory behind.
func (m *Manager) Prepare(ctx context.Context, job domain.JobRun) (string, error) {
	if strings.TrimSpace(job.ID) == "" {
		return "", fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(job.RepoURL) == "" {
		return "", fmt.Errorf("repo url is required")
	}
	if strings.TrimSpace(job.Commit) == "" {
		return "", fmt.Errorf("commit is required")
	}

	dir := filepath.Join(m.root, job.ID)
	// A stale checkout from an interrupted run must not leak into this one.
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear stale checkout: %w", err)
	}

	steps := []struct {
		name string
		argv []string
	}{
		{"init", []string{"git", "init", "--quiet", dir}},
		{"add remote", []string{"git", "-C", dir, "remote", "add", "origin", job.RepoURL}},
		{"fetch", []string{"git", "-C", dir, "fetch", "--quiet", "--depth", "1", "origin", job.Commit}},
		{"checkout", []string{"git", "-C", dir, "checkout", "--quiet", "--detach", "FETCH_HEAD"}},
	}
	for _, step := range steps {
		if err := m.runGit(ctx, step.name, step.argv); err != nil {
			_ = os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

// Cleanup removes a checkout produced by Prepare. Removing a directory
// that is already gone is not an error.
func (m *Manager) Cleanup(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkout: %w", err)
	}
	return nil
}

func (m *Manager) runGit(ctx context.Context, name string, argv []string) error {
	res, err := m.runner.Run(ctx, toolchain.CommandSpec{
		Argv: argv,
		// Credential prompts would hang a job until its budget expires.
		Env: map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	if err != nil {
		return fmt.Errorf("git %s: %w", name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git %s exited %d: %s", name, res.ExitCode, bytes.TrimSpace(res.Output))
	}
	return nil
}

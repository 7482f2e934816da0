package objectstore

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
)

// ErrWatchmanUnavailable is returned by InstallWatchHook when no watchman binary is on PATH.
var ErrWatchmanUnavailable = errors.New("watchman not found")

// ErrFsmonitorConfigured is returned by InstallWatchHook when core.fsmonitor is already
// set to something other than the watchman hook.
var ErrFsmonitorConfigured = errors.New("core.fsmonitor already configured")

const watchmanHook = "query-watchman"

func (g *Git) PackRefs(ctx context.Context) error {
	return g.run(ctx, "pack-refs", "--all", "--prune")
}

func (g *Git) ExpireReflog(ctx context.Context) error {
	return g.run(ctx, "reflog", "expire", "--all")
}

func (g *Git) PruneWorktrees(ctx context.Context) error {
	return g.run(ctx, "worktree", "prune")
}

// TestUntrackedCache reports whether the filesystem supports the untracked cache.
func (g *Git) TestUntrackedCache(ctx context.Context) (bool, error) {
	err := g.command(ctx, nil, "update-index", "--test-untracked-cache").Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "git update-index --test-untracked-cache")
	}
	return true, nil
}

func (g *Git) RefreshUntrackedCache(ctx context.Context) error {
	return g.run(ctx, "update-index", "--untracked-cache")
}

// Status runs a full status query without taking optional locks. Output is discarded.
func (g *Git) Status(ctx context.Context) error {
	_, err := g.output(ctx, nil, "--no-optional-locks", "status", "--untracked-files=all", "--porcelain")
	return err
}

// WatchmanAvailable reports whether a watchman executable is on PATH.
func (g *Git) WatchmanAvailable() bool {
	_, err := exec.LookPath("watchman")
	return err == nil
}

func (g *Git) watchHookPath() string {
	return filepath.Join(g.gitDir, "hooks", watchmanHook)
}

// fsmonitor returns the local core.fsmonitor value, or "" when it is not set.
func (g *Git) fsmonitor(ctx context.Context) (string, error) {
	output, err := g.command(ctx, nil, "config", "--local", "--get", "core.fsmonitor").Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", nil
	} else if err != nil {
		return "", errors.Wrap(err, "git config --get core.fsmonitor")
	}
	return strings.TrimSpace(string(output)), nil
}

// InstallWatchHook installs git's watchman fsmonitor integration and points core.fsmonitor at it.
//
// A core.fsmonitor the user configured is left alone and ErrFsmonitorConfigured returned.
func (g *Git) InstallWatchHook(ctx context.Context) error {
	current, err := g.fsmonitor(ctx)
	if err != nil {
		return err
	}
	if current != "" && current != g.watchHookPath() {
		return errors.Errorf("core.fsmonitor=%s: %w", current, ErrFsmonitorConfigured)
	}
	if !g.WatchmanAvailable() {
		return ErrWatchmanUnavailable
	}
	sample, err := os.ReadFile(filepath.Join(g.gitDir, "hooks", "fsmonitor-watchman.sample"))
	if err != nil {
		return errors.Wrap(err, "read fsmonitor-watchman sample hook")
	}
	if err := os.WriteFile(g.watchHookPath(), sample, 0o755); err != nil { //nolint:gosec
		return errors.Wrap(err, "write watchman hook")
	}
	return g.run(ctx, "config", "--local", "core.fsmonitor", g.watchHookPath())
}

// RemoveWatchHook undoes InstallWatchHook. core.fsmonitor is only unset while it still
// points at the installed hook.
func (g *Git) RemoveWatchHook(ctx context.Context) error {
	if err := os.Remove(g.watchHookPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove watchman hook")
	}
	current, err := g.fsmonitor(ctx)
	if err != nil || current != g.watchHookPath() {
		return err
	}
	return g.run(ctx, "config", "--local", "--unset-all", "core.fsmonitor")
}

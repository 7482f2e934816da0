package objectstore_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/block/repokeeper/internal/objectstore"
)

// newRepo creates a repository with the given number of commits and returns its path.
func newRepo(t *testing.T, commits int) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q", "-b", "main")
	for i := range commits {
		assert.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("file%d.txt", i)), []byte(fmt.Sprintf("content %d\n", i)), 0o600))
		gitCmd(t, dir, "add", ".")
		gitCmd(t, dir, "commit", "-q", "-m", fmt.Sprintf("commit %d", i))
	}
	return dir
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.name=Test", "-c", "user.email=test@example.com", "-c", "gc.auto=0"}, args...)...)
	output, err := cmd.CombinedOutput()
	assert.NoError(t, err, "git %v: %s", args, output)
	return string(output)
}

func openRepo(t *testing.T, dir string) *objectstore.Git {
	t.Helper()
	g, err := objectstore.Open(context.Background(), dir)
	assert.NoError(t, err)
	return g
}

func TestOpenFromSubdirectory(t *testing.T) {
	dir := newRepo(t, 1)
	sub := filepath.Join(dir, "nested", "deeper")
	assert.NoError(t, os.MkdirAll(sub, 0o750))

	g := openRepo(t, sub)
	want, err := filepath.EvalSymlinks(dir)
	assert.NoError(t, err)
	got, err := filepath.EvalSymlinks(g.Root())
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	gotGitDir, err := filepath.EvalSymlinks(g.GitDir())
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(want, ".git"), gotGitDir)
}

func TestOpenOutsideRepository(t *testing.T) {
	_, err := objectstore.Open(context.Background(), t.TempDir())
	assert.IsError(t, err, objectstore.ErrNotRepository)
}

func TestPrefetchRefspec(t *testing.T) {
	tests := []struct {
		remote   string
		pattern  string
		expected string
	}{
		{"origin", "refs/heads/*", "+refs/heads/*:refs/prefetch/origin/*"},
		{"upstream", "refs/heads/release/*", "+refs/heads/release/*:refs/prefetch/upstream/release/*"},
		{"origin", "refs/tags/*", "+refs/tags/*:refs/prefetch/origin/tags/*"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, objectstore.PrefetchRefspec(tt.remote, tt.pattern))
		})
	}
}

func TestRemotesAndPrefetch(t *testing.T) {
	ctx := context.Background()
	upstream := newRepo(t, 2)
	dir := newRepo(t, 1)
	gitCmd(t, dir, "remote", "add", "origin", upstream)

	g := openRepo(t, dir)
	remotes, err := g.Remotes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(remotes))
	assert.Equal(t, "origin", remotes[0].Name)

	gitCmd(t, upstream, "tag", "v1")
	patterns := []string{"refs/heads/*", "refs/tags/*"}
	assert.NoError(t, g.Prefetch(ctx, "origin", patterns))
	refs := gitCmd(t, dir, "for-each-ref", "--format=%(refname)", "refs/prefetch/")
	assert.Contains(t, refs, "refs/prefetch/origin/main")
	assert.Contains(t, refs, "refs/prefetch/origin/tags/v1")
	// Visible branches and tags stay where they were.
	assert.Equal(t, "", gitCmd(t, dir, "for-each-ref", "--format=%(refname)", "refs/remotes/"))
	assert.Equal(t, "", gitCmd(t, dir, "for-each-ref", "--format=%(refname)", "refs/tags/"))

	gitCmd(t, upstream, "tag", "-d", "v1")
	assert.NoError(t, g.Prefetch(ctx, "origin", patterns))
	refs = gitCmd(t, dir, "for-each-ref", "--format=%(refname)", "refs/prefetch/")
	assert.Contains(t, refs, "refs/prefetch/origin/main")
	assert.NotContains(t, refs, "refs/prefetch/origin/tags/v1")

	assert.Error(t, g.Prefetch(ctx, "origin", nil))
}

func TestLooseObjectsPackAndPrune(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, 3)
	g := openRepo(t, dir)

	dirs, err := g.LooseObjectDirs(ctx)
	assert.NoError(t, err)
	assert.NotZero(t, len(dirs))
	for _, d := range dirs {
		assert.Equal(t, 2, len(d))
	}

	ids, err := g.LooseObjects(ctx)
	assert.NoError(t, err)
	assert.NotZero(t, len(ids))

	assert.NoError(t, g.PackObjects(ctx, objectstore.LoosePackPrefix, ids))
	assert.NoError(t, g.PrunePacked(ctx))

	remaining, err := g.LooseObjects(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(remaining))

	packs, err := g.PackFiles(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(packs))
	assert.True(t, filepath.Ext(packs[0].Name) == ".pack")
	assert.NotZero(t, packs[0].Size)
}

func TestPackObjectsRejectsEmptyInput(t *testing.T) {
	g := openRepo(t, newRepo(t, 1))
	assert.Error(t, g.PackObjects(context.Background(), objectstore.LoosePackPrefix, nil))
}

func TestCommitGraphFiles(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, 2)
	g := openRepo(t, dir)

	files, err := g.CommitGraphFiles(ctx)
	assert.NoError(t, err)
	assert.Equal(t, objectstore.GraphFiles{}, files)

	gitCmd(t, dir, "commit-graph", "write", "--reachable")
	files, err = g.CommitGraphFiles(ctx)
	assert.NoError(t, err)
	assert.True(t, files.Monolithic)

	assert.NoError(t, g.RemoveMonolithicCommitGraph(ctx))
	assert.NoError(t, g.WriteCommitGraph(ctx, objectstore.CommitGraphOptions{}))
	assert.NoError(t, g.VerifyCommitGraph(ctx))
	files, err = g.CommitGraphFiles(ctx)
	assert.NoError(t, err)
	assert.Equal(t, objectstore.GraphFiles{Chain: true}, files)
}

func TestHousekeepingCommands(t *testing.T) {
	ctx := context.Background()
	g := openRepo(t, newRepo(t, 2))
	assert.NoError(t, g.PackRefs(ctx))
	assert.NoError(t, g.ExpireReflog(ctx))
	assert.NoError(t, g.PruneWorktrees(ctx))
	assert.NoError(t, g.Status(ctx))
	_, err := g.TestUntrackedCache(ctx)
	assert.NoError(t, err)
	assert.NoError(t, g.RemoveWatchHook(ctx))
}

// configValue reads a local config key, reporting whether it is set.
func configValue(t *testing.T, dir, key string) (string, bool) {
	t.Helper()
	output, err := exec.Command("git", "-C", dir, "config", "--local", "--get", key).Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(output)), true
}

func TestWatchHookLeavesUserFsmonitor(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, 1)
	gitCmd(t, dir, "config", "--local", "core.fsmonitor", "true")
	g := openRepo(t, dir)

	assert.IsError(t, g.InstallWatchHook(ctx), objectstore.ErrFsmonitorConfigured)
	value, ok := configValue(t, dir, "core.fsmonitor")
	assert.True(t, ok)
	assert.Equal(t, "true", value)

	assert.NoError(t, g.RemoveWatchHook(ctx))
	value, ok = configValue(t, dir, "core.fsmonitor")
	assert.True(t, ok)
	assert.Equal(t, "true", value)
}

func TestRemoveWatchHookUnsetsOwnSetting(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t, 1)
	g := openRepo(t, dir)
	hook := filepath.Join(g.GitDir(), "hooks", "query-watchman")
	assert.NoError(t, os.MkdirAll(filepath.Dir(hook), 0o750))
	assert.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\n"), 0o700)) //nolint:gosec
	gitCmd(t, dir, "config", "--local", "core.fsmonitor", hook)

	assert.NoError(t, g.RemoveWatchHook(ctx))
	_, err := os.Stat(hook)
	assert.True(t, os.IsNotExist(err))
	_, ok := configValue(t, dir, "core.fsmonitor")
	assert.False(t, ok)

	// Nothing left to remove.
	assert.NoError(t, g.RemoveWatchHook(ctx))
}

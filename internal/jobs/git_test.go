package jobs_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/block/repokeeper/internal/jobs"
	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/objectstore"
)

// newPackedRepo creates a repository with one pack per commit.
func newPackedRepo(t *testing.T, commits int) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q", "-b", "main")
	for i := range commits {
		assert.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("file%d.txt", i)), []byte(strings.Repeat(fmt.Sprintf("content %d\n", i), i+1)), 0o600))
		gitCmd(t, dir, "add", ".")
		gitCmd(t, dir, "commit", "-q", "-m", fmt.Sprintf("commit %d", i))
		gitCmd(t, dir, "repack", "-q", "-d")
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

func openJobs(t *testing.T, dir string) (context.Context, *objectstore.Git, *jobs.Jobs) {
	t.Helper()
	_, ctx := logging.Configure(context.Background(), logging.Config{})
	repo, err := objectstore.Open(ctx, dir)
	assert.NoError(t, err)
	return ctx, repo, jobs.New(ctx, jobs.Config{CommitGraph: jobs.CommitGraphConfig{ChangedPaths: true}}, repo)
}

// corrupt flips a run of bytes in the middle of path.
func corrupt(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.True(t, len(data) > 64, "%s too small to corrupt", path)
	for i := len(data) / 2; i < len(data)/2+16; i++ {
		data[i] ^= 0xff
	}
	assert.NoError(t, os.Chmod(path, 0o600))
	assert.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestMultiPackIndexRepairsCorruptIndex(t *testing.T) {
	dir := newPackedRepo(t, 4)
	ctx, repo, j := openJobs(t, dir)

	assert.NoError(t, j.MultiPackIndex(ctx))
	assert.NoError(t, repo.VerifyMultiPackIndex(ctx))

	corrupt(t, filepath.Join(repo.GitDir(), "objects", "pack", "multi-pack-index"))
	assert.Error(t, repo.VerifyMultiPackIndex(ctx))

	assert.NoError(t, j.MultiPackIndex(ctx))
	assert.NoError(t, repo.VerifyMultiPackIndex(ctx))

	// A healthy index is left healthy.
	assert.NoError(t, j.MultiPackIndex(ctx))
	assert.NoError(t, repo.VerifyMultiPackIndex(ctx))
	gitCmd(t, dir, "fsck", "--connectivity-only")
}

func TestMultiPackIndexConcurrentRunsConverge(t *testing.T) {
	dir := newPackedRepo(t, 4)
	ctx, repo, j := openJobs(t, dir)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Either run may lose a lock race; the next run repairs whatever it left.
			_ = j.MultiPackIndex(ctx) //nolint:errcheck
		}()
	}
	wg.Wait()

	assert.NoError(t, j.MultiPackIndex(ctx))
	assert.NoError(t, repo.VerifyMultiPackIndex(ctx))
	gitCmd(t, dir, "fsck", "--connectivity-only")
}

func TestCommitGraphRepairsMonolithicAndCorruptChain(t *testing.T) {
	dir := newPackedRepo(t, 3)
	ctx, repo, j := openJobs(t, dir)
	info := filepath.Join(repo.GitDir(), "objects", "info")

	// Lay down a split chain and a monolithic file side by side, whatever git itself
	// would clean up when writing one over the other.
	gitCmd(t, dir, "commit-graph", "write", "--reachable", "--split")
	chainDir := filepath.Join(info, "commit-graphs")
	entries, err := os.ReadDir(chainDir)
	assert.NoError(t, err)
	chainFiles := map[string][]byte{}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(chainDir, entry.Name()))
		assert.NoError(t, err)
		chainFiles[entry.Name()] = data
	}
	gitCmd(t, dir, "commit-graph", "write", "--reachable")
	assert.NoError(t, os.MkdirAll(chainDir, 0o750))
	for name, data := range chainFiles {
		assert.NoError(t, os.WriteFile(filepath.Join(chainDir, name), data, 0o600))
	}

	layers, err := filepath.Glob(filepath.Join(info, "commit-graphs", "graph-*.graph"))
	assert.NoError(t, err)
	assert.NotEqual(t, 0, len(layers))
	for _, layer := range layers {
		corrupt(t, layer)
	}
	files, err := repo.CommitGraphFiles(ctx)
	assert.NoError(t, err)
	assert.Equal(t, objectstore.GraphFiles{Monolithic: true, Chain: true}, files)

	assert.NoError(t, j.CommitGraph(ctx))

	files, err = repo.CommitGraphFiles(ctx)
	assert.NoError(t, err)
	assert.Equal(t, objectstore.GraphFiles{Chain: true}, files)
	assert.NoError(t, repo.VerifyCommitGraph(ctx))
	state, err := jobs.ClassifyGraph(ctx, repo)
	assert.NoError(t, err)
	assert.Equal(t, jobs.GraphSplitValid, state)

	chain, err := os.ReadFile(filepath.Join(chainDir, "commit-graph-chain"))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(strings.Fields(string(chain))))
	gitCmd(t, dir, "commit-graph", "verify")
}

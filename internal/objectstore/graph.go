package objectstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"
)

// GraphFiles describes which commit-graph artifacts are on disk.
type GraphFiles struct {
	Monolithic bool // objects/info/commit-graph
	Chain      bool // objects/info/commit-graphs/commit-graph-chain
}

// CommitGraphOptions controls a commit-graph write.
type CommitGraphOptions struct {
	// ChangedPaths attaches Bloom filters for per-path history queries.
	ChangedPaths bool
	// Replace rewrites the whole split chain as a single layer instead of appending.
	Replace bool
}

func (g *Git) monolithicGraphPath() string {
	return filepath.Join(g.objectsDir(), "info", "commit-graph")
}

func (g *Git) graphChainDir() string {
	return filepath.Join(g.objectsDir(), "info", "commit-graphs")
}

func (g *Git) CommitGraphFiles(_ context.Context) (GraphFiles, error) {
	monolithic, err := exists(g.monolithicGraphPath())
	if err != nil {
		return GraphFiles{}, err
	}
	chain, err := exists(filepath.Join(g.graphChainDir(), "commit-graph-chain"))
	if err != nil {
		return GraphFiles{}, err
	}
	return GraphFiles{Monolithic: monolithic, Chain: chain}, nil
}

// RemoveMonolithicCommitGraph deletes the legacy single-file commit-graph if present.
func (g *Git) RemoveMonolithicCommitGraph(_ context.Context) error {
	if err := os.Remove(g.monolithicGraphPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove commit-graph")
	}
	return nil
}

// RemoveCommitGraphChain deletes every layer of the split commit-graph.
func (g *Git) RemoveCommitGraphChain(_ context.Context) error {
	return errors.Wrap(os.RemoveAll(g.graphChainDir()), "remove commit-graph chain")
}

func (g *Git) WriteCommitGraph(ctx context.Context, opts CommitGraphOptions) error {
	args := []string{"commit-graph", "write", "--reachable"}
	if opts.Replace {
		args = append(args, "--split=replace")
	} else {
		args = append(args, "--split")
	}
	if opts.ChangedPaths {
		args = append(args, "--changed-paths")
	}
	return g.run(ctx, args...)
}

// VerifyCommitGraph checks the tip layer of the commit-graph.
func (g *Git) VerifyCommitGraph(ctx context.Context) error {
	return g.run(ctx, "commit-graph", "verify", "--shallow")
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "stat %s", path)
	}
	return true, nil
}

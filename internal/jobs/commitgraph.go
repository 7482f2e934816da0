package jobs

import (
	"context"
	"log/slog"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/objectstore"
)

// GraphState is the validity of the on-disk commit-graph.
type GraphState int

const (
	GraphAbsent GraphState = iota
	GraphSplitValid
	GraphSplitCorrupt
	GraphMonolithic
)

func (s GraphState) String() string {
	switch s {
	case GraphAbsent:
		return "absent"
	case GraphSplitValid:
		return "split-valid"
	case GraphSplitCorrupt:
		return "split-corrupt"
	case GraphMonolithic:
		return "monolithic"
	default:
		return "unknown"
	}
}

// ClassifyGraph reports the state of the commit-graph currently on disk.
//
// A monolithic file takes precedence over any chain beside it, since its presence makes
// split writes ineffective.
func ClassifyGraph(ctx context.Context, gateway Gateway) (GraphState, error) {
	files, err := gateway.CommitGraphFiles(ctx)
	if err != nil {
		return GraphAbsent, errors.Wrap(err, "inspect commit-graph")
	}
	switch {
	case files.Monolithic:
		return GraphMonolithic, nil
	case !files.Chain:
		return GraphAbsent, nil
	case gateway.VerifyCommitGraph(ctx) != nil:
		return GraphSplitCorrupt, nil
	default:
		return GraphSplitValid, nil
	}
}

// CommitGraph appends a split layer for all reachable commits and repairs the chain if
// the result does not verify.
func (j *Jobs) CommitGraph(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	opts := objectstore.CommitGraphOptions{ChangedPaths: j.config.CommitGraph.ChangedPaths}

	// Classifying verifies the chain; skip it unless debug output is on.
	if logger.Enabled(ctx, slog.LevelDebug) {
		state, err := ClassifyGraph(ctx, j.gateway)
		if err != nil {
			return errors.WithStack(err)
		}
		logger.DebugContext(ctx, "Commit-graph state before write", "state", state)
	}

	files, err := j.gateway.CommitGraphFiles(ctx)
	if err != nil {
		return errors.Wrap(err, "inspect commit-graph")
	}
	if files.Monolithic {
		logger.InfoContext(ctx, "Removing monolithic commit-graph before split write", "state", GraphMonolithic)
		if err := j.gateway.RemoveMonolithicCommitGraph(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	// A broken chain can make the incremental write itself fail, so a failed write is
	// repaired the same way as a failed verification.
	verifyErr := j.gateway.WriteCommitGraph(ctx, opts)
	if verifyErr == nil {
		verifyErr = j.gateway.VerifyCommitGraph(ctx)
	}
	if verifyErr == nil {
		return nil
	}
	logger.WarnContext(ctx, "Commit-graph failed verification, rewriting chain", "state", GraphSplitCorrupt, "error", verifyErr)

	if err := j.gateway.RemoveCommitGraphChain(ctx); err != nil {
		return errors.WithStack(err)
	}
	opts.Replace = true
	if err := j.gateway.WriteCommitGraph(ctx, opts); err != nil {
		return errors.Wrap(err, "rewrite commit-graph")
	}
	return errors.Wrap(j.gateway.VerifyCommitGraph(ctx), "verify rewritten commit-graph")
}

package jobs

import (
	"context"
	"slices"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/objectstore"
)

// BatchSize picks the multi-pack-index repack threshold for a pack set.
//
// With two or fewer packs it returns 0, which repacks everything into one pack.
// Otherwise it returns the second-largest pack size plus one: every pack but the single
// largest is below the threshold and gets consolidated.
func BatchSize(packs []objectstore.PackFile) int64 {
	if len(packs) <= 2 {
		return 0
	}
	sizes := make([]int64, len(packs))
	for i, pack := range packs {
		sizes[i] = pack.Size
	}
	slices.Sort(sizes)
	return sizes[len(sizes)-2] + 1
}

// MultiPackIndex writes, expires and repacks the multi-pack-index, verifying (and if
// necessary rebuilding) it after each structural change.
func (j *Jobs) MultiPackIndex(ctx context.Context) error {
	packs, err := j.gateway.PackFiles(ctx)
	if err != nil {
		return errors.Wrap(err, "list packs")
	}
	if len(packs) == 0 {
		// git refuses to write an index over zero packs.
		logging.FromContext(ctx).DebugContext(ctx, "No packs, skipping multi-pack-index")
		return nil
	}

	if err := j.verifyOrRewriteMultiPackIndex(ctx, j.gateway.WriteMultiPackIndex(ctx)); err != nil {
		return err
	}

	expireErr := j.gateway.ExpireMultiPackIndex(ctx)
	if err := j.verifyOrRewriteMultiPackIndex(ctx, nil); err != nil {
		return err
	}
	if expireErr != nil {
		return errors.Wrap(expireErr, "expire")
	}

	// Expire may have deleted packs, so list them again.
	packs, err = j.gateway.PackFiles(ctx)
	if err != nil {
		return errors.Wrap(err, "list packs")
	}
	batchSize := BatchSize(packs)
	logging.FromContext(ctx).DebugContext(ctx, "Repacking", "packs", len(packs), "batch_size", batchSize)
	repackErr := j.gateway.RepackMultiPackIndex(ctx, batchSize)
	if err := j.verifyOrRewriteMultiPackIndex(ctx, nil); err != nil {
		return err
	}
	return errors.Wrap(repackErr, "repack")
}

// verifyOrRewriteMultiPackIndex rebuilds the index from the current pack set when it
// does not verify. A non-nil writeErr from the preceding write counts as a failed
// verification.
func (j *Jobs) verifyOrRewriteMultiPackIndex(ctx context.Context, writeErr error) error {
	verifyErr := writeErr
	if verifyErr == nil {
		verifyErr = j.gateway.VerifyMultiPackIndex(ctx)
	}
	if verifyErr == nil {
		return nil
	}
	logging.FromContext(ctx).WarnContext(ctx, "multi-pack-index failed verification, rewriting", "error", verifyErr)
	if err := j.gateway.RemoveMultiPackIndex(ctx); err != nil {
		return errors.WithStack(err)
	}
	if err := j.gateway.WriteMultiPackIndex(ctx); err != nil {
		return errors.Wrap(err, "rewrite multi-pack-index")
	}
	return errors.Wrap(j.gateway.VerifyMultiPackIndex(ctx), "verify rewritten multi-pack-index")
}

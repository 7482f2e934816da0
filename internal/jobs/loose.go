package jobs

import (
	"context"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/objectstore"
)

// PackLooseObjects moves every remaining loose object into a single "loose-*" pack.
//
// The packs it leaves behind are later folded in by the multi-pack-index job.
func (j *Jobs) PackLooseObjects(ctx context.Context) error {
	if err := j.gateway.PrunePacked(ctx); err != nil {
		return errors.Wrap(err, "prune packed")
	}
	dirs, err := j.gateway.LooseObjectDirs(ctx)
	if err != nil {
		return errors.Wrap(err, "list loose object directories")
	}
	if len(dirs) == 0 {
		return nil
	}
	ids, err := j.gateway.LooseObjects(ctx)
	if err != nil {
		return errors.Wrap(err, "list loose objects")
	}
	// Fan-out directories can exist but be empty.
	if len(ids) == 0 {
		return nil
	}
	if err := j.gateway.PackObjects(ctx, objectstore.LoosePackPrefix, ids); err != nil {
		return errors.Wrap(err, "pack loose objects")
	}
	logging.FromContext(ctx).InfoContext(ctx, "Packed loose objects", "count", len(ids))
	return errors.Wrap(j.gateway.PrunePacked(ctx), "prune packed")
}

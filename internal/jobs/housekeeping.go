package jobs

import (
	"context"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/objectstore"
)

func (j *Jobs) PackRefs(ctx context.Context) error {
	return errors.WithStack(j.gateway.PackRefs(ctx))
}

func (j *Jobs) ExpireReflog(ctx context.Context) error {
	return errors.WithStack(j.gateway.ExpireReflog(ctx))
}

func (j *Jobs) WorktreePrune(ctx context.Context) error {
	return errors.WithStack(j.gateway.PruneWorktrees(ctx))
}

// RefreshIndex keeps the untracked cache warm by running a full status query.
func (j *Jobs) RefreshIndex(ctx context.Context) error {
	if j.untrackedCache {
		if err := j.gateway.RefreshUntrackedCache(ctx); err != nil {
			return errors.Wrap(err, "refresh untracked cache")
		}
	}
	return errors.Wrap(j.gateway.Status(ctx), "status")
}

// InstallWatchHook installs the watchman integration hook when watchman is present.
// Absence of watchman, or a core.fsmonitor the user set, is not an error.
func (j *Jobs) InstallWatchHook(ctx context.Context) error {
	if !j.gateway.WatchmanAvailable() {
		logging.FromContext(ctx).DebugContext(ctx, "watchman not found, skipping fsmonitor hook")
		return nil
	}
	err := j.gateway.InstallWatchHook(ctx)
	if errors.Is(err, objectstore.ErrFsmonitorConfigured) {
		logging.FromContext(ctx).InfoContext(ctx, "Keeping existing fsmonitor configuration", "error", err)
		return nil
	}
	return errors.Wrap(err, "install watchman hook")
}

// RemoveWatchHook removes the watchman hook if it is installed.
func (j *Jobs) RemoveWatchHook(ctx context.Context) error {
	return errors.Wrap(j.gateway.RemoveWatchHook(ctx), "remove watchman hook")
}

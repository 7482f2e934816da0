package jobs

import (
	"context"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/logging"
)

// Prefetch fetches every remote into the hidden prefetch namespace.
//
// Every remote is attempted even if an earlier one fails.
func (j *Jobs) Prefetch(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	remotes, err := j.gateway.Remotes(ctx)
	if err != nil {
		return errors.Wrap(err, "list remotes")
	}
	var errs []error
	for _, remote := range remotes {
		if err := j.gateway.Prefetch(ctx, remote.Name, j.config.Prefetch.patterns()); err != nil {
			errs = append(errs, errors.Wrapf(err, "prefetch %s", remote.Name))
			continue
		}
		logger.DebugContext(ctx, "Prefetched remote", "remote", remote.Name)
	}
	return errors.Join(errs...)
}

// Package jobs implements the maintenance job bodies and the static registry that
// binds each of them to its configuration key and default interval.
package jobs

import (
	"context"

	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/objectstore"
)

// Gateway is the slice of the object store the jobs need.
type Gateway interface {
	Remotes(ctx context.Context) ([]objectstore.Remote, error)
	Prefetch(ctx context.Context, remote string, patterns []string) error

	CommitGraphFiles(ctx context.Context) (objectstore.GraphFiles, error)
	RemoveMonolithicCommitGraph(ctx context.Context) error
	RemoveCommitGraphChain(ctx context.Context) error
	WriteCommitGraph(ctx context.Context, opts objectstore.CommitGraphOptions) error
	VerifyCommitGraph(ctx context.Context) error

	PackFiles(ctx context.Context) ([]objectstore.PackFile, error)
	WriteMultiPackIndex(ctx context.Context) error
	VerifyMultiPackIndex(ctx context.Context) error
	RemoveMultiPackIndex(ctx context.Context) error
	ExpireMultiPackIndex(ctx context.Context) error
	RepackMultiPackIndex(ctx context.Context, batchSize int64) error

	PrunePacked(ctx context.Context) error
	LooseObjectDirs(ctx context.Context) ([]string, error)
	LooseObjects(ctx context.Context) ([]string, error)
	PackObjects(ctx context.Context, prefix string, ids []string) error

	PackRefs(ctx context.Context) error
	ExpireReflog(ctx context.Context) error
	PruneWorktrees(ctx context.Context) error

	TestUntrackedCache(ctx context.Context) (bool, error)
	RefreshUntrackedCache(ctx context.Context) error
	Status(ctx context.Context) error

	WatchmanAvailable() bool
	InstallWatchHook(ctx context.Context) error
	RemoveWatchHook(ctx context.Context) error
}

var _ Gateway = (*objectstore.Git)(nil)

// TagPattern is the source pattern used when tags are prefetched.
const TagPattern = "refs/tags/*"

type PrefetchConfig struct {
	Refspec string `hcl:"refspec,optional" help:"Source ref pattern prefetched from every remote." default:"refs/heads/*"`
	Tags    bool   `hcl:"tags,optional" help:"Also prefetch tags into the prefetch namespace." default:"true"`
}

type CommitGraphConfig struct {
	ChangedPaths bool `hcl:"changed-paths,optional" help:"Write changed-path Bloom filters into the commit-graph." default:"true"`
}

type Config struct {
	Prefetch    PrefetchConfig    `hcl:"prefetch,block"`
	CommitGraph CommitGraphConfig `hcl:"commit-graph,block"`
}

// Jobs holds the job bodies for one repository.
type Jobs struct {
	config         Config
	gateway        Gateway
	untrackedCache bool
}

// New prepares the job bodies, testing once for untracked-cache support.
//
// The result is kept for the lifetime of the returned Jobs; an unsupported (or
// untestable) filesystem permanently downgrades refresh-index to a plain status query.
func New(ctx context.Context, config Config, gateway Gateway) *Jobs {
	logger := logging.FromContext(ctx)
	if config.Prefetch.Refspec == "" {
		config.Prefetch.Refspec = "refs/heads/*"
	}
	supported, err := gateway.TestUntrackedCache(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Untracked cache test failed, falling back to plain status", "error", err)
		supported = false
	} else if !supported {
		logger.InfoContext(ctx, "Untracked cache not supported here, falling back to plain status")
	}
	return &Jobs{config: config, gateway: gateway, untrackedCache: supported}
}

func (c PrefetchConfig) patterns() []string {
	if c.Tags {
		return []string{c.Refspec, TagPattern}
	}
	return []string{c.Refspec}
}

// UntrackedCache reports the outcome of the untracked-cache test.
func (j *Jobs) UntrackedCache() bool { return j.untrackedCache }

package objectstore

import (
	"context"
	"slices"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/go-git/go-git/v5"
)

// PrefetchNamespace is the hidden ref namespace prefetched objects are staged under.
const PrefetchNamespace = "refs/prefetch/"

// Remote is a configured remote the repository fetches from.
type Remote struct {
	Name string
	URLs []string
}

// Remotes lists every remote that has at least one fetch refspec, sorted by name.
//
// The configuration is re-read on every call so remotes added while the daemon runs
// are picked up.
func (g *Git) Remotes(_ context.Context) ([]Remote, error) {
	repo, err := git.PlainOpenWithOptions(g.root, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		return nil, errors.Wrap(err, "open repository")
	}
	remotes, err := repo.Remotes()
	if err != nil {
		return nil, errors.Wrap(err, "list remotes")
	}
	var out []Remote
	for _, remote := range remotes {
		cfg := remote.Config()
		if len(cfg.Fetch) == 0 {
			continue
		}
		out = append(out, Remote{Name: cfg.Name, URLs: slices.Clone(cfg.URLs)})
	}
	slices.SortFunc(out, func(a, b Remote) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// PrefetchRefspec maps a source ref pattern on remote into the prefetch namespace.
//
//	PrefetchRefspec("origin", "refs/heads/*") == "+refs/heads/*:refs/prefetch/origin/*"
func PrefetchRefspec(remote, pattern string) string {
	dst := strings.TrimPrefix(pattern, "refs/heads/")
	dst = strings.TrimPrefix(dst, "refs/")
	return "+" + pattern + ":" + PrefetchNamespace + remote + "/" + dst
}

// Prefetch fetches every pattern from remote into the prefetch namespace, pruning
// prefetched refs and tags that no longer exist upstream. Tags are fetched only through
// an explicit "refs/tags/*" pattern, so visible branches and tags are never touched.
func (g *Git) Prefetch(ctx context.Context, remote string, patterns []string) error {
	if len(patterns) == 0 {
		return errors.Errorf("prefetch %s: no ref patterns", remote)
	}
	args := []string{"fetch", remote,
		"--quiet",
		"--prune",
		"--no-tags",
		"--no-write-fetch-head",
		"--recurse-submodules=no",
		"--refmap=",
	}
	for _, pattern := range patterns {
		args = append(args, PrefetchRefspec(remote, pattern))
	}
	return g.run(ctx, args...)
}

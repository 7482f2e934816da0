package jobs

import (
	"context"

	"github.com/block/repokeeper/internal/configstore"
	"github.com/block/repokeeper/internal/jobscheduler"
)

// Job names double as their config keys within the maintenance section.
const (
	Prefetch         = "prefetch"
	CommitGraph      = "commit-graph"
	MultiPackIndex   = "multi-pack-index"
	PackLooseObjects = "pack-loose-objects"
	PackRefs         = "pack-refs"
	ExpireReflog     = "expire-reflog"
	WorktreePrune    = "worktree-prune"
	RefreshIndex     = "refresh-index"
)

// Definition is a registry entry.
type Definition struct {
	Name string
	// DefaultInterval in seconds, written to config when maintenance is enabled.
	DefaultInterval int
}

// ConfigKey is the fully qualified config key holding the job's interval.
func (d Definition) ConfigKey() string { return configstore.Key(d.Name) }

//nolint:gochecknoglobals
var definitions = []Definition{
	{Name: Prefetch, DefaultInterval: 3600},
	{Name: CommitGraph, DefaultInterval: 3600},
	{Name: MultiPackIndex, DefaultInterval: 86400},
	{Name: PackLooseObjects, DefaultInterval: 86400},
	{Name: PackRefs, DefaultInterval: 300},
	{Name: ExpireReflog, DefaultInterval: 300},
	{Name: WorktreePrune, DefaultInterval: 300},
	{Name: RefreshIndex, DefaultInterval: 300},
}

// Definitions returns the registry in its fixed execution order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

func (j *Jobs) action(name string) func(context.Context) error {
	switch name {
	case Prefetch:
		return j.Prefetch
	case CommitGraph:
		return j.CommitGraph
	case MultiPackIndex:
		return j.MultiPackIndex
	case PackLooseObjects:
		return j.PackLooseObjects
	case PackRefs:
		return j.PackRefs
	case ExpireReflog:
		return j.ExpireReflog
	case WorktreePrune:
		return j.WorktreePrune
	case RefreshIndex:
		return j.RefreshIndex
	default:
		panic("unknown job " + name)
	}
}

// Registry binds every definition to its job body.
func (j *Jobs) Registry() []jobscheduler.Job {
	out := make([]jobscheduler.Job, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, jobscheduler.Job{
			Name:            def.Name,
			ConfigKey:       def.ConfigKey(),
			DefaultInterval: def.DefaultInterval,
			Action:          j.action(def.Name),
		})
	}
	return out
}

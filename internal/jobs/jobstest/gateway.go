// Package jobstest provides an in-memory jobs.Gateway that records every call.
package jobstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/jobs"
	"github.com/block/repokeeper/internal/objectstore"
)

// Gateway is a scripted fake object store.
//
// Errors maps a method name to a queue of results: each call pops the front, and an
// empty queue means success. Graph and MultiPackIndex track the artifacts the methods
// create and delete.
type Gateway struct {
	mu sync.Mutex

	RemoteList     []objectstore.Remote
	Packs          []objectstore.PackFile
	LooseDirs      []string
	Loose          []string
	Graph          objectstore.GraphFiles
	MultiPackIndex bool
	UntrackedCache bool
	Watchman       bool
	HookInstalled  bool
	Errors         map[string][]error

	calls []string
}

var _ jobs.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{Errors: map[string][]error{}}
}

// Fail queues errs as the results of the next calls to method.
func (g *Gateway) Fail(method string, errs ...error) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Errors[method] = append(g.Errors[method], errs...)
	return g
}

// Calls returns the recorded calls in order.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Reset forgets recorded calls.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// record must be called with g.mu held.
func (g *Gateway) record(method, call string) error {
	if call == "" {
		call = method
	}
	g.calls = append(g.calls, call)
	queue := g.Errors[method]
	if len(queue) == 0 {
		return nil
	}
	g.Errors[method] = queue[1:]
	return queue[0]
}

func (g *Gateway) call(method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record(method, "")
}

func (g *Gateway) Remotes(context.Context) ([]objectstore.Remote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("Remotes", ""); err != nil {
		return nil, err
	}
	return append([]objectstore.Remote(nil), g.RemoteList...), nil
}

func (g *Gateway) Prefetch(_ context.Context, remote string, patterns []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record("Prefetch", fmt.Sprintf("Prefetch(%s %s)", remote, strings.Join(patterns, " ")))
}

func (g *Gateway) CommitGraphFiles(context.Context) (objectstore.GraphFiles, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Graph, g.record("CommitGraphFiles", "")
}

func (g *Gateway) RemoveMonolithicCommitGraph(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Graph.Monolithic = false
	return g.record("RemoveMonolithicCommitGraph", "")
}

func (g *Gateway) RemoveCommitGraphChain(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Graph.Chain = false
	return g.record("RemoveCommitGraphChain", "")
}

func (g *Gateway) WriteCommitGraph(_ context.Context, opts objectstore.CommitGraphOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	mode := "split"
	if opts.Replace {
		mode = "replace"
	}
	err := g.record("WriteCommitGraph", fmt.Sprintf("WriteCommitGraph(%s changed-paths=%t)", mode, opts.ChangedPaths))
	if err == nil {
		g.Graph.Chain = true
	}
	return err
}

func (g *Gateway) VerifyCommitGraph(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("VerifyCommitGraph", ""); err != nil {
		return err
	}
	if !g.Graph.Chain {
		return errors.New("no commit-graph chain")
	}
	return nil
}

func (g *Gateway) PackFiles(context.Context) ([]objectstore.PackFile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("PackFiles", ""); err != nil {
		return nil, err
	}
	return append([]objectstore.PackFile(nil), g.Packs...), nil
}

func (g *Gateway) WriteMultiPackIndex(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.record("WriteMultiPackIndex", "")
	if err == nil {
		g.MultiPackIndex = true
	}
	return err
}

func (g *Gateway) VerifyMultiPackIndex(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("VerifyMultiPackIndex", ""); err != nil {
		return err
	}
	if !g.MultiPackIndex {
		return errors.New("no multi-pack-index")
	}
	return nil
}

func (g *Gateway) RemoveMultiPackIndex(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.MultiPackIndex = false
	return g.record("RemoveMultiPackIndex", "")
}

func (g *Gateway) ExpireMultiPackIndex(context.Context) error { return g.call("ExpireMultiPackIndex") }

func (g *Gateway) RepackMultiPackIndex(_ context.Context, batchSize int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record("RepackMultiPackIndex", fmt.Sprintf("RepackMultiPackIndex(%d)", batchSize))
}

func (g *Gateway) PrunePacked(context.Context) error { return g.call("PrunePacked") }

func (g *Gateway) LooseObjectDirs(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.LooseDirs...), g.record("LooseObjectDirs", "")
}

func (g *Gateway) LooseObjects(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Loose...), g.record("LooseObjects", "")
}

func (g *Gateway) PackObjects(_ context.Context, prefix string, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.record("PackObjects", fmt.Sprintf("PackObjects(%s %d)", prefix, len(ids)))
	if err == nil {
		g.Loose = nil
	}
	return err
}

func (g *Gateway) PackRefs(context.Context) error { return g.call("PackRefs") }

func (g *Gateway) ExpireReflog(context.Context) error { return g.call("ExpireReflog") }

func (g *Gateway) PruneWorktrees(context.Context) error { return g.call("PruneWorktrees") }

func (g *Gateway) TestUntrackedCache(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.UntrackedCache, g.record("TestUntrackedCache", "")
}

func (g *Gateway) RefreshUntrackedCache(context.Context) error {
	return g.call("RefreshUntrackedCache")
}

func (g *Gateway) Status(context.Context) error { return g.call("Status") }

func (g *Gateway) WatchmanAvailable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Watchman
}

func (g *Gateway) InstallWatchHook(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.record("InstallWatchHook", "")
	if err == nil {
		g.HookInstalled = true
	}
	return err
}

func (g *Gateway) RemoveWatchHook(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.HookInstalled = false
	return g.record("RemoveWatchHook", "")
}

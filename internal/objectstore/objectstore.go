// Package objectstore is the gateway to the repository's object database.
//
// Everything that touches git's on-disk formats goes through here, either by shelling
// out to the git CLI or, for read-only metadata such as remotes, through go-git. The
// maintenance jobs never manipulate object storage paths themselves.
package objectstore

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned by Open when the path is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Git implements the object store gateway for a single repository.
type Git struct {
	root   string
	gitDir string
}

// Open resolves the repository containing path.
//
// Resolution walks up from path the way `git` itself does, so the daemon can be started
// from any directory inside the working tree.
func Open(ctx context.Context, path string) (*Git, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve path")
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, errors.Errorf("%s: %w", abs, ErrNotRepository)
	} else if err != nil {
		return nil, errors.Wrapf(err, "open repository at %s", abs)
	}

	root := abs
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}

	g := &Git{root: root}
	// The common dir holds objects/ and config even for linked worktrees.
	output, err := g.output(ctx, nil, "rev-parse", "--git-common-dir")
	if err != nil {
		return nil, errors.Errorf("%s: %w (%v)", root, ErrNotRepository, err)
	}
	g.gitDir = strings.TrimSpace(output)
	if !filepath.IsAbs(g.gitDir) {
		g.gitDir = filepath.Join(root, g.gitDir)
	}
	return g, nil
}

func (g *Git) String() string { return g.root }

// Root is the top of the working tree.
func (g *Git) Root() string { return g.root }

// GitDir is the repository's common git directory.
func (g *Git) GitDir() string { return g.gitDir }

func (g *Git) objectsDir() string { return filepath.Join(g.gitDir, "objects") }

func (g *Git) packDir() string { return filepath.Join(g.objectsDir(), "pack") }

func (g *Git) command(ctx context.Context, stdin io.Reader, args ...string) *exec.Cmd {
	// #nosec G204 - root and arguments are controlled by us
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.root}, args...)...)
	cmd.Stdin = stdin
	return cmd
}

// run executes git, folding its combined output into the error on failure.
func (g *Git) run(ctx context.Context, args ...string) error {
	output, err := g.command(ctx, nil, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(output)))
	}
	return nil
}

// output executes git and returns its stdout.
func (g *Git) output(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := g.command(ctx, stdin, args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return string(output), nil
}

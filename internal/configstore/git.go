package configstore

import (
	"context"
	"os/exec"
	"strings"

	"github.com/alecthomas/errors"
)

// Exit statuses of `git config` that mean "nothing there".
const (
	exitKeyNotFound   = 1
	exitUnsetNotFound = 5
)

// GitStore keeps configuration in a repository's local git config.
type GitStore struct {
	root string
}

var _ Store = (*GitStore)(nil)

// NewGitStore returns a Store backed by the local config of the repository at root.
func NewGitStore(root string) *GitStore {
	return &GitStore{root: root}
}

func (g *GitStore) String() string { return "git-config:" + g.root }

func (g *GitStore) command(ctx context.Context, args ...string) *exec.Cmd {
	// #nosec G204 - root and keys are controlled by us
	return exec.CommandContext(ctx, "git", append([]string{"-C", g.root, "config", "--local"}, args...)...)
}

func (g *GitStore) Get(ctx context.Context, key string) (string, error) {
	output, err := g.command(ctx, "--get", key).Output()
	if exitCode(err) == exitKeyNotFound {
		return "", errors.Errorf("%s: %w", key, ErrNotFound)
	} else if err != nil {
		return "", errors.Wrapf(err, "git config --get %s", key)
	}
	return strings.TrimRight(string(output), "\n"), nil
}

func (g *GitStore) Set(ctx context.Context, key, value string) error {
	output, err := g.command(ctx, key, value).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git config %s: %s", key, string(output))
	}
	return nil
}

func (g *GitStore) Unset(ctx context.Context, key string) error {
	output, err := g.command(ctx, "--unset-all", key).CombinedOutput()
	if err != nil && exitCode(err) != exitUnsetNotFound {
		return errors.Wrapf(err, "git config --unset-all %s: %s", key, string(output))
	}
	return nil
}

func (g *GitStore) SetSection(ctx context.Context, section string, values map[string]string) error {
	for _, name := range sortedNames(values) {
		if err := g.Set(ctx, section+"."+name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func (g *GitStore) RemoveSection(ctx context.Context, section string) error {
	// --remove-section fails on a missing section, so look first.
	err := g.command(ctx, "--get-regexp", "^"+strings.ReplaceAll(section, ".", `\.`)+`\.`).Run()
	if exitCode(err) == exitKeyNotFound {
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "git config --get-regexp %s", section)
	}
	output, err := g.command(ctx, "--remove-section", section).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git config --remove-section %s: %s", section, string(output))
	}
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

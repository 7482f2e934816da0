package configstore_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/block/repokeeper/internal/configstore"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func newGitStore(t *testing.T) *configstore.GitStore {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	output, err := exec.Command("git", "init", "-q", dir).CombinedOutput()
	assert.NoError(t, err, "git init: %s", output)
	return configstore.NewGitStore(dir)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) configstore.Store{
		"Memory": func(*testing.T) configstore.Store { return configstore.NewMemory() },
		"Git":    func(t *testing.T) configstore.Store { return newGitStore(t) },
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			_, err := store.Get(ctx, configstore.EnableKey)
			assert.IsError(t, err, configstore.ErrNotFound)

			assert.NoError(t, store.SetSection(ctx, configstore.Section, map[string]string{
				"enable":   "1",
				"prefetch": "3600",
			}))
			value, err := store.Get(ctx, configstore.Key("prefetch"))
			assert.NoError(t, err)
			assert.Equal(t, "3600", value)

			enabled, err := configstore.Enabled(ctx, store)
			assert.NoError(t, err)
			assert.True(t, enabled)

			assert.NoError(t, store.Set(ctx, "gc.auto", "0"))
			assert.NoError(t, store.Unset(ctx, "gc.auto"))
			assert.NoError(t, store.Unset(ctx, "gc.auto"))
			_, err = store.Get(ctx, "gc.auto")
			assert.IsError(t, err, configstore.ErrNotFound)

			assert.NoError(t, store.RemoveSection(ctx, configstore.Section))
			assert.NoError(t, store.RemoveSection(ctx, configstore.Section))
			_, err = store.Get(ctx, configstore.Key("prefetch"))
			assert.IsError(t, err, configstore.ErrNotFound)

			enabled, err = configstore.Enabled(ctx, store)
			assert.NoError(t, err)
			assert.False(t, enabled)
		})
	}
}

func TestInterval(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		value    string
		set      bool
		expected int
	}{
		{name: "Absent", expected: 0},
		{name: "Positive", value: "300", set: true, expected: 300},
		{name: "Zero", value: "0", set: true, expected: 0},
		{name: "Negative", value: "-5", set: true, expected: 0},
		{name: "Garbage", value: "soon", set: true, expected: 0},
		{name: "Whitespace", value: " 60 ", set: true, expected: 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := configstore.NewMemory()
			if tt.set {
				assert.NoError(t, store.Set(ctx, configstore.Key("pack-refs"), tt.value))
			}
			n, err := configstore.Interval(ctx, store, configstore.Key("pack-refs"))
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, n)
		})
	}
}

// Package configstore is the persistent key/value store that holds the daemon's
// enable flag, per-job intervals and the repository-global behaviour flags.
package configstore

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
)

// Section is the config section that holds all maintenance state.
const Section = "repokeeper"

// EnableKey is the fully qualified key of the enable flag.
const EnableKey = Section + ".enable"

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("config key not found")

// Store is the process-external source of truth for maintenance configuration.
//
// Keys are fully qualified ("section.name").
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Unset removes key. An absent key is not an error.
	Unset(ctx context.Context, key string) error
	// SetSection writes every name=value pair under section.
	SetSection(ctx context.Context, section string, values map[string]string) error
	// RemoveSection deletes section and everything in it. An absent section is not an error.
	RemoveSection(ctx context.Context, section string) error
}

// Key returns the fully qualified key for name within the maintenance section.
func Key(name string) string { return Section + "." + name }

// Interval returns the interval stored under key in seconds.
//
// Absent keys, non-numeric values and non-positive values all yield 0, which callers
// treat as "disabled". Only store failures are returned as errors.
func Interval(ctx context.Context, store Store, key string) (int, error) {
	value, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "read %s", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, nil //nolint:nilerr
	}
	return n, nil
}

// Enabled reports whether the enable flag is set to a non-zero value.
func Enabled(ctx context.Context, store Store) (bool, error) {
	n, err := Interval(ctx, store, EnableKey)
	return n > 0, err
}

// sortedNames returns the keys of values with "enable" last, so that a reader polling
// the enable flag never observes it before the intervals it guards.
func sortedNames(values map[string]string) []string {
	names := slices.Sorted(maps.Keys(values))
	if i := slices.Index(names, "enable"); i >= 0 {
		names = append(slices.Delete(names, i, i+1), "enable")
	}
	return names
}

package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
)

// LooseObjectDirs returns the fan-out directories (objects/00 .. objects/ff) that exist.
//
// Only two-hex-digit names qualify, so pack/, info/ and commit-graph storage are never
// reported.
func (g *Git) LooseObjectDirs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(g.objectsDir())
	if err != nil {
		return nil, errors.Wrap(err, "read objects directory")
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && len(entry.Name()) == 2 && isHex(entry.Name()) {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

// LooseObjects returns the ID of every loose object.
func (g *Git) LooseObjects(ctx context.Context) ([]string, error) {
	dirs, err := g.LooseObjectDirs(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(filepath.Join(g.objectsDir(), dir))
		if errors.Is(err, os.ErrNotExist) {
			continue // emptied by a concurrent prune
		} else if err != nil {
			return nil, errors.Wrapf(err, "read %s", dir)
		}
		for _, entry := range entries {
			// 38 hex digits for SHA-1, 62 for SHA-256; anything else is a temp file.
			name := entry.Name()
			if entry.Type().IsRegular() && (len(name) == 38 || len(name) == 62) && isHex(name) {
				ids = append(ids, dir+name)
			}
		}
	}
	return ids, nil
}

// PackObjects writes ids into a new pack named objects/pack/<prefix>-<hash>.pack.
func (g *Git) PackObjects(ctx context.Context, prefix string, ids []string) error {
	if len(ids) == 0 {
		return errors.New("pack-objects: no objects given")
	}
	stdin := strings.NewReader(strings.Join(ids, "\n") + "\n")
	_, err := g.output(ctx, stdin, "pack-objects", "-q", filepath.Join(g.packDir(), prefix))
	return err
}

// PrunePacked removes loose objects that are also present in a pack.
func (g *Git) PrunePacked(ctx context.Context) error {
	return g.run(ctx, "prune-packed", "-q")
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return s != ""
}

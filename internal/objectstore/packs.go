package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
)

// LoosePackPrefix names packs created from loose objects.
const LoosePackPrefix = "loose"

// PackFile is a pack in objects/pack.
type PackFile struct {
	Name string
	Size int64
}

// PackFiles lists the packs currently on disk, smallest first.
func (g *Git) PackFiles(_ context.Context) ([]PackFile, error) {
	entries, err := os.ReadDir(g.packDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read pack directory")
	}
	var packs []PackFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pack" {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue // removed by a concurrent repack
		} else if err != nil {
			return nil, errors.Wrapf(err, "stat %s", entry.Name())
		}
		packs = append(packs, PackFile{Name: entry.Name(), Size: info.Size()})
	}
	slices.SortFunc(packs, func(a, b PackFile) int {
		if a.Size != b.Size {
			if a.Size < b.Size {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return packs, nil
}

func (g *Git) WriteMultiPackIndex(ctx context.Context) error {
	return g.run(ctx, "multi-pack-index", "write")
}

func (g *Git) VerifyMultiPackIndex(ctx context.Context) error {
	return g.run(ctx, "multi-pack-index", "verify")
}

// ExpireMultiPackIndex drops index entries, and pack files, that no object refers to any more.
func (g *Git) ExpireMultiPackIndex(ctx context.Context) error {
	return g.run(ctx, "multi-pack-index", "expire")
}

// RepackMultiPackIndex consolidates packs smaller than batchSize. Zero repacks everything.
func (g *Git) RepackMultiPackIndex(ctx context.Context, batchSize int64) error {
	return g.run(ctx, "multi-pack-index", "repack", "--batch-size="+strconv.FormatInt(batchSize, 10))
}

func (g *Git) RemoveMultiPackIndex(_ context.Context) error {
	path := filepath.Join(g.packDir(), "multi-pack-index")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove multi-pack-index")
	}
	return nil
}

package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirCache stores cache entries as tarballs under a local directory,
// one file per key. It backs the local one-shot runner, where an
// object store is not available.
type DirCache struct {
	root  string
	paths []string
}

func NewDirCache(root string) *DirCache {
	return &DirCache{root: root, paths: CachedPaths}
}

func (c *DirCache) Restore(ctx context.Context, key string, dest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := os.Open(c.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open cache entry %s: %w", key, err)
	}
	defer f.Close()

	if err := unpack(f, dest); err != nil {
		return false, fmt.Errorf("restore cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *DirCache) Save(ctx context.Context, key string, src string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.root, "entry-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := pack(tmp, src, c.paths); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("pack cache entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp entry: %w", err)
	}

	// Rename makes the entry visible atomically. Concurrent saves for
	// the same key land last-writer-wins, which is fine for a cache.
	if err := os.Rename(tmp.Name(), c.entryPath(key)); err != nil {
		return fmt.Errorf("publish cache entry %s: %w", key, err)
	}
	return nil
}

func (c *DirCache) entryPath(key string) string {
	return filepath.Join(c.root, key+".tar.gz")
}

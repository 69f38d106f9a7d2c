package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/mergegate-labs/mergegate-go/internal/storage/objectstore"
)

const entryContentType = "application/gzip"

// ObjectCache stores cache entries as tarball objects in a bucket,
// one object per key. Saves overwrite whatever is already there for
// the key, so concurrent writers land last-writer-wins.
type ObjectCache struct {
	store  objectstore.Store
	bucket string
	paths  []string
}

func NewObjectCache(store objectstore.Store, bucket string) (*ObjectCache, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("cache bucket is required")
	}
	return &ObjectCache{store: store, bucket: bucket, paths: CachedPaths}, nil
}

func (c *ObjectCache) Restore(ctx context.Context, key string, dest string) (bool, error) {
	body, _, err := c.store.Get(ctx, c.bucket, c.entryKey(key))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch cache entry %s: %w", key, err)
	}
	defer body.Close()

	if err := unpack(body, dest); err != nil {
		return false, fmt.Errorf("restore cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *ObjectCache) Save(ctx context.Context, key string, src string) error {
	// PutObject wants the size up front, so the tarball is staged in
	// memory. Entries are compressed build state, not artifacts, and
	// stay well within what a worker can hold.
	var buf bytes.Buffer
	if err := pack(&buf, src, c.paths); err != nil {
		return fmt.Errorf("pack cache entry %s: %w", key, err)
	}
	if err := c.store.Put(ctx, c.bucket, c.entryKey(key), &buf, int64(buf.Len()), entryContentType); err != nil {
		return fmt.Errorf("store cache entry %s: %w", key, err)
	}
	return nil
}

func (c *ObjectCache) entryKey(key string) string {
	return key + ".tar.gz"
}

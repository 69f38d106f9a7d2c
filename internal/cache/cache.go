// Package cache restores and saves the dependency cache that makes
// repeated verification runs affordable. The cache is an opaque
// collaborator: a miss or a broken entry never fails a job, it only
// costs a cold build.
package cache

import "context"

// Cache stores build artifacts keyed by a manifest fingerprint.
//
// Restore unpacks the entry for key into dest and reports whether an
// entry existed. A miss is (false, nil). An error still means the
// restore did not happen; callers treat it like a miss.
//
// Save packs the cacheable paths under src and stores them at key,
// overwriting any existing entry. Concurrent saves to the same key are
// last-writer-wins.
type Cache interface {
	Restore(ctx context.Context, key string, dest string) (bool, error)
	Save(ctx context.Context, key string, src string) error
}

// CachedPaths are the directories worth keeping between runs, relative
// to the checkout root.
var CachedPaths = []string{"target"}

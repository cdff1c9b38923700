package scan

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dsablic/linestat/internal/model"
)

type cacheKey struct {
	repo int64
	path string
}

// FileCache fronts the persisted file cache with an in-memory LRU. An
// entry is only trusted by callers after comparing its fingerprint, so a
// stale in-memory entry can cost a fetch but never yields wrong counts.
type FileCache struct {
	store Store
	mem   *lru.Cache[cacheKey, model.FileCacheEntry]
}

// NewFileCache creates a cache holding up to size entries in memory.
func NewFileCache(store Store, size int) (*FileCache, error) {
	if size <= 0 {
		size = 4096
	}
	mem, err := lru.New[cacheKey, model.FileCacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &FileCache{store: store, mem: mem}, nil
}

// Lookup returns the entry for (repo, path). Any store error is reported
// as a miss.
func (c *FileCache) Lookup(ctx context.Context, repoID int64, path string) (model.FileCacheEntry, bool, error) {
	key := cacheKey{repoID, path}
	if e, ok := c.mem.Get(key); ok {
		return e, true, nil
	}
	e, err := c.store.LookupFile(ctx, repoID, path)
	if err != nil {
		return model.FileCacheEntry{}, false, err
	}
	c.mem.Add(key, e)
	return e, true, nil
}

// Upsert persists e and refreshes the in-memory copy.
func (c *FileCache) Upsert(ctx context.Context, e model.FileCacheEntry) error {
	key := cacheKey{e.RepositoryID, e.Path}
	if err := c.store.UpsertFile(ctx, e); err != nil {
		c.mem.Remove(key)
		return err
	}
	c.mem.Add(key, e)
	return nil
}

// MarkSeen records that the walk identified by seenAt listed e unchanged.
func (c *FileCache) MarkSeen(ctx context.Context, e model.FileCacheEntry, seenAt string) error {
	key := cacheKey{e.RepositoryID, e.Path}
	if err := c.store.MarkSeen(ctx, e.RepositoryID, e.Path, seenAt); err != nil {
		c.mem.Remove(key)
		return err
	}
	e.SeenAt = seenAt
	c.mem.Add(key, e)
	return nil
}

// Purge drops every in-memory entry.
func (c *FileCache) Purge() {
	c.mem.Purge()
}

// Len reports the number of in-memory entries.
func (c *FileCache) Len() int {
	return c.mem.Len()
}

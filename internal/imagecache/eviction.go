package imagecache

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// evictOversize enforces the total size cap. When the tracked total exceeds
// the cap, entries are evicted oldest-LastAccessed first until the total is
// back under the eviction target. Runs after every successful download.
func (c *Cache) evictOversize() {
	c.metaMu.Lock()

	var total int64
	for _, m := range c.meta {
		total += m.SizeBytes
	}
	if total <= c.maxTotalBytes {
		c.metaMu.Unlock()
		return
	}

	ids := make([]string, 0, len(c.meta))
	for id := range c.meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.meta[ids[i]].LastAccessed.Before(c.meta[ids[j]].LastAccessed)
	})

	target := int64(float64(c.maxTotalBytes) * c.evictTarget)
	var victims []string
	for _, id := range ids {
		if total <= target {
			break
		}
		total -= c.meta[id].SizeBytes
		delete(c.meta, id)
		victims = append(victims, id)
	}
	c.metaMu.Unlock()

	for _, id := range victims {
		c.mem.Remove(id)
		if err := c.fs.Remove(c.pathFor(id)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("Failed to remove evicted image", "user_id", id, "error", err)
		}
		c.evictions.Add(1)
	}

	if len(victims) > 0 {
		c.log.Info("Evicted images over size cap", "count", len(victims))
		c.scheduleMetadataSave()
	}
}

// evictExpired drops every entry cached before now minus the hard age cap.
func (c *Cache) evictExpired(now time.Time) {
	cutoff := now.Add(-c.maxEntryAge)

	c.metaMu.Lock()
	var victims []string
	for id, m := range c.meta {
		if m.CachedAt.Before(cutoff) {
			delete(c.meta, id)
			victims = append(victims, id)
		}
	}
	c.metaMu.Unlock()

	for _, id := range victims {
		c.mem.Remove(id)
		if err := c.fs.Remove(c.pathFor(id)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("Failed to remove expired image", "user_id", id, "error", err)
		}
		c.evictions.Add(1)
	}

	if len(victims) > 0 {
		c.log.Info("Evicted expired images at startup", "count", len(victims))
		c.scheduleMetadataSave()
	}
}

// RefreshStale re-downloads every referenced avatar whose cached copy is
// stale, with bounded parallelism. Refs without a URL and fresh entries are
// skipped. Per-ref failures are already logged inside Download.
func (c *Cache) RefreshStale(ctx context.Context, refs []AvatarRef) {
	p := pool.New().WithMaxGoroutines(c.maxConcurrent)
	for _, ref := range refs {
		if ref.URL == "" || !c.IsStale(ref.UserID, c.defaultMaxAge) {
			continue
		}
		ref := ref
		p.Go(func() {
			if _, err := c.Download(ctx, ref.URL, ref.UserID, true); err != nil {
				c.log.DebugContext(ctx, "Stale avatar refresh failed", "user_id", ref.UserID, "error", err)
			}
		})
	}
	p.Wait()
}

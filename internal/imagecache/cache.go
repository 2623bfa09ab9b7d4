// Package imagecache maps user ids to locally cached avatar images, sourced
// lazily from URLs. It layers a bounded in-memory cache over a disk
// directory, tracks per-entry metadata, deduplicates concurrent downloads,
// backs off from failing URLs, and bounds total disk usage with
// least-recently-accessed eviction.
package imagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/javi11/plansync/internal/httpclient"
	"github.com/javi11/plansync/internal/persist"
	"github.com/javi11/plansync/internal/store"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

const metadataStoreKey = "images.metadata"

// Metadata tracks one cached image. SizeBytes always matches the persisted
// blob; CachedAt is set once per successful download, LastAccessed on every
// read hit.
type Metadata struct {
	CachedAt     time.Time `json:"cachedAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	SizeBytes    int64     `json:"sizeBytes"`
}

// AvatarRef pairs a user id with the URL their avatar can be fetched from.
type AvatarRef struct {
	UserID string
	URL    string
}

// Stats reports cache hit counters.
type Stats struct {
	MemoryHits uint64
	DiskHits   uint64
	Misses     uint64
	Downloads  uint64
	Evictions  uint64
	EntryCount int
	TotalBytes int64
}

// Options configures the image cache.
type Options struct {
	Fs               afero.Fs
	Dir              string
	Store            store.Store
	Client           *http.Client
	MaxTotalBytes    int64
	EvictTarget      float64 // fraction of MaxTotalBytes to shrink to, default 0.75
	MaxEntryAge      time.Duration
	DefaultMaxAge    time.Duration
	FailureCooldown  time.Duration
	RetryAttempts    int // retries after the first failed attempt
	RetryDelay       time.Duration
	MemoryEntries    int
	DebounceInterval time.Duration
	MaxConcurrent    int // parallel transfers during RefreshStale fan-out
}

// Cache is the avatar image cache. Its four pieces of shared state (memory
// tier, metadata, in-flight dedup, failure registry) each have their own
// access discipline; a caller crossing between them observes eventually
// consistent state, which is fine because each is only a best-effort hint.
type Cache struct {
	fs     afero.Fs
	dir    string
	store  store.Store
	client *http.Client
	deb    *persist.Debouncer
	log    *slog.Logger

	maxTotalBytes   int64
	evictTarget     float64
	maxEntryAge     time.Duration
	defaultMaxAge   time.Duration
	failureCooldown time.Duration
	retryAttempts   int
	retryDelay      time.Duration
	maxConcurrent   int

	mem *lru.Cache[string, []byte]

	metaMu sync.RWMutex
	meta   map[string]Metadata

	group singleflight.Group

	failMu   sync.RWMutex
	failures map[string]time.Time

	memHits   atomic.Uint64
	diskHits  atomic.Uint64
	misses    atomic.Uint64
	downloads atomic.Uint64
	evictions atomic.Uint64
}

// New creates the image cache. Initialize must be called before first use to
// load persisted metadata and run startup eviction.
func New(opts Options) (*Cache, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Client == nil {
		opts.Client = httpclient.NewImageDownload()
	}
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = 100 * 1024 * 1024
	}
	if opts.EvictTarget <= 0 || opts.EvictTarget >= 1 {
		opts.EvictTarget = 0.75
	}
	if opts.MaxEntryAge <= 0 {
		opts.MaxEntryAge = 30 * 24 * time.Hour
	}
	if opts.DefaultMaxAge <= 0 {
		opts.DefaultMaxAge = 24 * time.Hour
	}
	if opts.FailureCooldown <= 0 {
		opts.FailureCooldown = 5 * time.Minute
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = 256
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}

	mem, err := lru.New[string, []byte](opts.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	if err := opts.Fs.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image cache directory: %w", err)
	}

	return &Cache{
		fs:              opts.Fs,
		dir:             opts.Dir,
		store:           opts.Store,
		client:          opts.Client,
		deb:             persist.NewDebouncer(opts.DebounceInterval),
		log:             slog.Default().With("component", "image-cache"),
		maxTotalBytes:   opts.MaxTotalBytes,
		evictTarget:     opts.EvictTarget,
		maxEntryAge:     opts.MaxEntryAge,
		defaultMaxAge:   opts.DefaultMaxAge,
		failureCooldown: opts.FailureCooldown,
		retryAttempts:   opts.RetryAttempts,
		retryDelay:      opts.RetryDelay,
		maxConcurrent:   opts.MaxConcurrent,
		mem:             mem,
		meta:            make(map[string]Metadata),
		failures:        make(map[string]time.Time),
	}, nil
}

// Initialize loads persisted metadata and evicts entries past the hard age
// cap, unconditionally and regardless of total size.
func (c *Cache) Initialize(ctx context.Context) {
	c.loadMetadata(ctx)
	c.evictExpired(time.Now())
}

func (c *Cache) pathFor(userID string) string {
	return filepath.Join(c.dir, userID)
}

// Get returns a cached image. Memory hit returns immediately; disk hit
// decodes into the memory tier and bumps LastAccessed. A miss never triggers
// network work.
func (c *Cache) Get(userID string) ([]byte, bool) {
	if data, ok := c.mem.Get(userID); ok {
		c.memHits.Add(1)
		c.touchAccess(userID)
		return data, true
	}

	data, err := afero.ReadFile(c.fs, c.pathFor(userID))
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	c.diskHits.Add(1)
	c.mem.Add(userID, data)
	c.touchAccess(userID)
	return data, true
}

// GetWithRefresh serves whatever is cached immediately for responsiveness.
// If the cached copy is older than maxAge a detached background re-download
// replaces it; callers never wait on the refresh. With nothing cached it
// falls through to a blocking download.
func (c *Cache) GetWithRefresh(ctx context.Context, userID, url string, maxAge time.Duration) ([]byte, bool) {
	if data, ok := c.Get(userID); ok {
		if url != "" && c.IsStale(userID, maxAge) {
			bg := context.WithoutCancel(ctx)
			go func() {
				if _, err := c.Download(bg, url, userID, true); err != nil {
					c.log.DebugContext(bg, "Background image refresh failed", "user_id", userID, "error", err)
				}
			}()
		}
		return data, true
	}

	if url == "" {
		return nil, false
	}

	data, err := c.Download(ctx, url, userID, false)
	if err != nil || data == nil {
		return nil, false
	}

	return data, true
}

// IsStale reports whether userID's cached image is older than maxAge. A
// missing entry is stale.
func (c *Cache) IsStale(userID string, maxAge time.Duration) bool {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	m, ok := c.meta[userID]
	if !ok {
		return true
	}

	return time.Since(m.CachedAt) > maxAge
}

// Remove deletes one user's image from every tier.
func (c *Cache) Remove(userID string) {
	c.mem.Remove(userID)

	if err := c.fs.Remove(c.pathFor(userID)); err != nil && !os.IsNotExist(err) {
		c.log.Warn("Failed to remove cached image", "user_id", userID, "error", err)
	}

	c.metaMu.Lock()
	delete(c.meta, userID)
	c.metaMu.Unlock()

	c.scheduleMetadataSave()
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.metaMu.Lock()
	ids := make([]string, 0, len(c.meta))
	for id := range c.meta {
		ids = append(ids, id)
	}
	c.meta = make(map[string]Metadata)
	c.metaMu.Unlock()

	c.mem.Purge()
	for _, id := range ids {
		if err := c.fs.Remove(c.pathFor(id)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("Failed to remove cached image", "user_id", id, "error", err)
		}
	}

	c.failMu.Lock()
	c.failures = make(map[string]time.Time)
	c.failMu.Unlock()

	c.scheduleMetadataSave()
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	c.metaMu.RLock()
	count := len(c.meta)
	var total int64
	for _, m := range c.meta {
		total += m.SizeBytes
	}
	c.metaMu.RUnlock()

	return Stats{
		MemoryHits: c.memHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Misses:     c.misses.Load(),
		Downloads:  c.downloads.Load(),
		Evictions:  c.evictions.Load(),
		EntryCount: count,
		TotalBytes: total,
	}
}

// Flush executes any pending metadata write immediately.
func (c *Cache) Flush() {
	c.deb.Flush()
}

func (c *Cache) touchAccess(userID string) {
	c.metaMu.Lock()
	if m, ok := c.meta[userID]; ok {
		m.LastAccessed = time.Now()
		c.meta[userID] = m
	}
	c.metaMu.Unlock()

	c.scheduleMetadataSave()
}

func (c *Cache) scheduleMetadataSave() {
	c.deb.Schedule(func() {
		c.persistMetadata(context.Background())
	})
}

func (c *Cache) persistMetadata(ctx context.Context) {
	c.metaMu.RLock()
	meta := make(map[string]Metadata, len(c.meta))
	for id, m := range c.meta {
		meta[id] = m
	}
	c.metaMu.RUnlock()

	data, err := json.Marshal(meta)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to encode image metadata", "error", err)
		return
	}

	if err := c.store.Set(ctx, metadataStoreKey, data); err != nil {
		c.log.ErrorContext(ctx, "Failed to persist image metadata", "error", err)
	}
}

func (c *Cache) loadMetadata(ctx context.Context) {
	data, ok, err := c.store.Get(ctx, metadataStoreKey)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to load image metadata", "error", err)
		return
	}
	if !ok {
		return
	}

	var meta map[string]Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		c.log.WarnContext(ctx, "Failed to decode image metadata", "error", err)
		return
	}

	c.metaMu.Lock()
	c.meta = meta
	c.metaMu.Unlock()
}

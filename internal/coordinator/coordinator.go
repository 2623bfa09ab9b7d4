// Package coordinator sequences the domain cache services: it runs the
// timestamp validation protocol against the backend, routes invalidations to
// the owning service, and drives the avatar prefetch that follows data
// refreshes.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/javi11/plansync/internal/cache"
	"github.com/javi11/plansync/internal/imagecache"
	"github.com/javi11/plansync/internal/session"
	"github.com/javi11/plansync/internal/slogutil"
	"github.com/javi11/plansync/internal/transport"
	"github.com/sourcegraph/conc/pool"
)

// Domain is the contract every cache service fulfills toward the
// coordinator.
type Domain interface {
	Name() string
	CacheKeys() []string
	CacheTimestamps(userID string) map[string]time.Time
	ApplyUpdate(userID, cacheKey string, payload []byte) error
	Refresh(ctx context.Context)
	ClearUser(userID string)
	ClearAll()
	Flush()
}

// Coordinator owns the validation cycle. It holds the domain services in a
// fixed order and never mutates domain state itself, only dispatches.
type Coordinator struct {
	session    session.Session
	api        *transport.Client
	activities *cache.ActivityService
	friendship *cache.FriendshipService
	profiles   *cache.ProfileService
	images     *imagecache.Cache
	domains    []Domain
	log        *slog.Logger
}

// New wires the coordinator. The activity service's avatar prefetch hook is
// registered here so bulk activity updates warm participant avatars through
// the image cache.
func New(sess session.Session, api *transport.Client, activities *cache.ActivityService, friendship *cache.FriendshipService, profiles *cache.ProfileService, images *imagecache.Cache) *Coordinator {
	c := &Coordinator{
		session:    sess,
		api:        api,
		activities: activities,
		friendship: friendship,
		profiles:   profiles,
		images:     images,
		domains:    []Domain{activities, friendship, profiles},
		log:        slog.Default().With("component", "coordinator"),
	}

	activities.SetPrefetchFunc(c.prefetchAvatars)

	return c
}

// Initialize prepares the image cache. Domain services load their durable
// state on construction, so nothing else is needed here.
func (c *Coordinator) Initialize(ctx context.Context) {
	c.images.Initialize(ctx)
}

// ValidateCache runs one validation cycle for the signed-in user. With an
// empty ledger (cold cache) every domain is refreshed outright and no
// validation request is made. Otherwise the merged ledger goes to the
// backend; keys reported stale are either patched from the returned payload
// or, when no payload came back or applying it failed, refreshed by the
// owning domain. Failures never propagate: a failed cycle leaves caches
// stale but intact.
func (c *Coordinator) ValidateCache(ctx context.Context) {
	userID, ok := c.session.CurrentUserID()
	if !ok || !c.session.IsAuthenticated() {
		c.log.DebugContext(ctx, "Skipping validation, no authenticated session")
		return
	}

	// Every log line in this cycle carries the user id via the handler hook
	ctx = slogutil.WithAttrs(ctx, slog.String("user_id", userID))

	merged := c.mergedTimestamps(userID)
	if len(merged) == 0 {
		c.log.InfoContext(ctx, "Cold cache, refreshing all domains")
		c.refreshDomains(ctx, c.domains)
		c.activities.PruneExpired()
		go c.refreshImages(context.WithoutCancel(ctx), userID)
		return
	}

	// A failed validation call means "no updates available", never a failed
	// cycle; the avatar refresh below still runs.
	results, err := c.api.ValidateCaches(ctx, merged)
	if err != nil {
		c.log.WarnContext(ctx, "Cache validation request failed, treating as no updates", "error", err)
		results = nil
	}

	toRefresh := make(map[string]Domain)
	for key, result := range results {
		if !result.Invalidate {
			continue
		}

		domain, ok := c.domainForKey(key)
		if !ok {
			c.log.WarnContext(ctx, "Validation result for unknown cache key", "cache_key", key)
			continue
		}

		if len(result.UpdatedItems) > 0 {
			if err := domain.ApplyUpdate(userID, key, result.UpdatedItems); err != nil {
				c.log.WarnContext(ctx, "Failed to apply validation payload, falling back to refresh",
					"domain", domain.Name(), "cache_key", key, "error", err)
				toRefresh[domain.Name()] = domain
			}
			continue
		}

		toRefresh[domain.Name()] = domain
	}

	if len(toRefresh) > 0 {
		domains := make([]Domain, 0, len(toRefresh))
		for _, d := range toRefresh {
			domains = append(domains, d)
		}
		c.refreshDomains(ctx, domains)
	}

	go c.refreshImages(context.WithoutCancel(ctx), userID)
}

// refreshDomains refreshes the given domains in parallel. Each domain
// isolates its own failures, so a refresh never fails the cycle.
func (c *Coordinator) refreshDomains(ctx context.Context, domains []Domain) {
	p := pool.New().WithMaxGoroutines(len(domains))
	for _, d := range domains {
		d := d
		p.Go(func() {
			d.Refresh(ctx)
		})
	}
	p.Wait()
}

func (c *Coordinator) domainForKey(key string) (Domain, bool) {
	for _, d := range c.domains {
		for _, k := range d.CacheKeys() {
			if k == key {
				return d, true
			}
		}
	}
	return nil, false
}

// mergedTimestamps merges every domain's ledger for userID into the flat map
// the validation endpoint expects. Cache keys are globally unique across
// domains, so the merge is collision free.
func (c *Coordinator) mergedTimestamps(userID string) map[string]time.Time {
	merged := make(map[string]time.Time)
	for _, d := range c.domains {
		for key, ts := range d.CacheTimestamps(userID) {
			merged[key] = ts
		}
	}
	return merged
}

// refreshImages re-downloads stale avatars referenced by the friendship and
// profile caches. Runs detached from the validation cycle.
func (c *Coordinator) refreshImages(ctx context.Context, userID string) {
	refs := c.avatarRefs(userID)
	if len(refs) == 0 {
		return
	}
	c.images.RefreshStale(ctx, refs)
}

// avatarRefs collects every user referenced anywhere in the now-current
// caches for userID: friendship and profile avatar sources (which carry
// URLs), the owner, and activity participants. First reference wins, so
// URL-bearing sources are gathered before bare ids.
func (c *Coordinator) avatarRefs(userID string) []imagecache.AvatarRef {
	seen := make(map[string]struct{})
	var refs []imagecache.AvatarRef

	add := func(id, url string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		refs = append(refs, imagecache.AvatarRef{UserID: id, URL: url})
	}

	for _, r := range c.friendship.AvatarSources(userID) {
		add(r.UserID, r.URL)
	}
	for _, r := range c.profiles.AvatarSources(userID) {
		add(r.UserID, r.URL)
	}

	add(userID, "")
	for _, id := range c.activities.ParticipantsForUser(userID) {
		add(id, "")
	}

	return refs
}

// prefetchAvatars warms avatars for the given user ids using URLs already
// known to the friendship and profile caches. Ids without a known URL are
// skipped; the next validation cycle picks them up.
func (c *Coordinator) prefetchAvatars(userIDs []string) {
	owner, ok := c.session.CurrentUserID()
	if !ok {
		return
	}

	byID := make(map[string]string)
	for _, r := range c.avatarRefs(owner) {
		if r.URL != "" {
			byID[r.UserID] = r.URL
		}
	}

	var refs []imagecache.AvatarRef
	for _, id := range userIDs {
		if url, ok := byID[id]; ok {
			refs = append(refs, imagecache.AvatarRef{UserID: id, URL: url})
		}
	}
	if len(refs) == 0 {
		return
	}

	c.images.RefreshStale(context.Background(), refs)
}

// ClearAllCaches wipes every domain cache and the image cache, memory and
// durable state both. Used on sign-out.
func (c *Coordinator) ClearAllCaches() {
	for _, d := range c.domains {
		d.ClearAll()
	}
	c.images.Clear()
	c.log.Info("All caches cleared")
}

// ClearAllDataForUser removes one user's partitions from every domain cache
// and their avatar from the image cache.
func (c *Coordinator) ClearAllDataForUser(userID string) {
	for _, d := range c.domains {
		d.ClearUser(userID)
	}
	c.images.Remove(userID)
	c.log.Info("Cleared cached data for user", "user_id", userID)
}

// Flush forces every pending debounced write to disk. Called at shutdown.
func (c *Coordinator) Flush() {
	for _, d := range c.domains {
		d.Flush()
	}
	c.images.Flush()
}

// Package cache implements the per-domain cache services: one authoritative
// in-memory copy of each domain's entities per owning user, kept durable
// through the debounced writer and kept fresh through the transport client.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/javi11/plansync/internal/persist"
	"github.com/javi11/plansync/internal/session"
	"github.com/javi11/plansync/internal/store"
)

// Cache type keys, namespaced per domain. They key the timestamp ledger and
// the backend validation protocol.
const (
	KeyActivities       = "activities"
	KeyActivityTypes    = "activityTypes"
	KeyFriends          = "friends"
	KeyIncomingRequests = "incomingRequests"
	KeyOutgoingRequests = "outgoingRequests"
	KeyProfiles         = "profiles"
)

// AvatarRef pairs a user id with the URL their avatar can be fetched from.
// An empty URL means "known user, no image source".
type AvatarRef struct {
	UserID string
	URL    string
}

// base carries the state every domain cache service shares: the session and
// store collaborators, the per-service debounced writer, the timestamp
// ledger, and change notification.
type base struct {
	name    string
	session session.Session
	store   store.Store
	deb     *persist.Debouncer
	log     *slog.Logger

	tsMu       sync.RWMutex
	timestamps map[string]map[string]time.Time

	cbMu     sync.Mutex
	onChange []func(userID string)
}

func newBase(name string, sess session.Session, st store.Store, debounce time.Duration) base {
	return base{
		name:       name,
		session:    sess,
		store:      st,
		deb:        persist.NewDebouncer(debounce),
		log:        slog.Default().With("component", name+"-cache"),
		timestamps: make(map[string]map[string]time.Time),
	}
}

// Name returns the domain name.
func (b *base) Name() string {
	return b.name
}

// currentUser returns the signed-in user id, if any. Reads only need a user
// id; refresh additionally requires an authenticated session.
func (b *base) currentUser() (string, bool) {
	return b.session.CurrentUserID()
}

// refreshAllowed reports whether a network refresh may run, logging why not
// otherwise.
func (b *base) refreshAllowed(ctx context.Context) (string, bool) {
	userID, ok := b.session.CurrentUserID()
	if !ok || !b.session.IsAuthenticated() {
		b.log.DebugContext(ctx, "Skipping refresh, no authenticated session")
		return "", false
	}

	return userID, true
}

// touch records "fresh as of now" for (userID, cacheKey) in the ledger.
func (b *base) touch(userID, cacheKey string) {
	b.tsMu.Lock()
	defer b.tsMu.Unlock()

	ledger, ok := b.timestamps[userID]
	if !ok {
		ledger = make(map[string]time.Time)
		b.timestamps[userID] = ledger
	}
	ledger[cacheKey] = time.Now()
}

// CacheTimestamps returns a copy of one user's timestamp ledger.
func (b *base) CacheTimestamps(userID string) map[string]time.Time {
	b.tsMu.RLock()
	defer b.tsMu.RUnlock()

	ledger, ok := b.timestamps[userID]
	if !ok {
		return map[string]time.Time{}
	}

	result := make(map[string]time.Time, len(ledger))
	for k, v := range ledger {
		result[k] = v
	}
	return result
}

func (b *base) clearUserTimestamps(userID string) {
	b.tsMu.Lock()
	defer b.tsMu.Unlock()
	delete(b.timestamps, userID)
}

func (b *base) resetTimestamps() {
	b.tsMu.Lock()
	defer b.tsMu.Unlock()
	b.timestamps = make(map[string]map[string]time.Time)
}

func (b *base) setTimestamps(ts map[string]map[string]time.Time) {
	if ts == nil {
		ts = make(map[string]map[string]time.Time)
	}
	b.tsMu.Lock()
	defer b.tsMu.Unlock()
	b.timestamps = ts
}

func (b *base) timestampsKey() string {
	return b.name + ".timestamps"
}

// loadTimestampsFromStore reads the persisted ledger. Missing or corrupt data
// yields an empty ledger.
func (b *base) loadTimestampsFromStore(ctx context.Context) {
	data, ok, err := b.store.Get(ctx, b.timestampsKey())
	if err != nil {
		b.log.WarnContext(ctx, "Failed to load timestamp ledger", "error", err)
		return
	}
	if !ok {
		return
	}

	var ts map[string]map[string]time.Time
	if err := json.Unmarshal(data, &ts); err != nil {
		b.log.WarnContext(ctx, "Failed to decode timestamp ledger", "error", err)
		return
	}

	b.setTimestamps(ts)
}

// persistTimestamps writes the ledger snapshot to the durable store.
func (b *base) persistTimestamps(ctx context.Context) {
	b.tsMu.RLock()
	ts := make(map[string]map[string]time.Time, len(b.timestamps))
	for userID, ledger := range b.timestamps {
		entry := make(map[string]time.Time, len(ledger))
		for k, v := range ledger {
			entry[k] = v
		}
		ts[userID] = entry
	}
	b.tsMu.RUnlock()

	data, err := json.Marshal(ts)
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to encode timestamp ledger", "error", err)
		return
	}

	if err := b.store.Set(ctx, b.timestampsKey(), data); err != nil {
		b.log.ErrorContext(ctx, "Failed to persist timestamp ledger", "error", err)
	}
}

// OnChange registers a callback fired (outside locks) after any mutation of
// the service's state for a given user.
func (b *base) OnChange(fn func(userID string)) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.onChange = append(b.onChange, fn)
}

func (b *base) notify(userID string) {
	b.cbMu.Lock()
	callbacks := make([]func(string), len(b.onChange))
	copy(callbacks, b.onChange)
	b.cbMu.Unlock()

	for _, fn := range callbacks {
		fn(userID)
	}
}

// Flush executes any pending durable write immediately. Called at shutdown.
func (b *base) Flush() {
	b.deb.Flush()
}

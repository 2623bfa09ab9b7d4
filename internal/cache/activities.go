package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/javi11/plansync/internal/models"
	"github.com/javi11/plansync/internal/session"
	"github.com/javi11/plansync/internal/store"
	"github.com/javi11/plansync/internal/transport"
)

const (
	activitiesStoreKey    = "activities.items"
	activityTypesStoreKey = "activities.types"
)

func activityID(a models.Activity) string         { return a.ID }
func activityTypeID(t models.ActivityType) string { return t.ID }

// ActivityService caches activities and activity types per owning user.
// Expired activities are filtered out of every read and pruned from the
// durable copy when the filter removed anything.
type ActivityService struct {
	base
	api      *transport.Client
	prefetch func(userIDs []string)

	mu         sync.RWMutex
	activities map[string][]models.Activity
	types      map[string][]models.ActivityType
}

// NewActivityService creates the service and starts the disk load in the
// background so construction never blocks startup.
func NewActivityService(sess session.Session, st store.Store, api *transport.Client, debounce time.Duration) *ActivityService {
	s := &ActivityService{
		base:       newBase("activities", sess, st, debounce),
		api:        api,
		activities: make(map[string][]models.Activity),
		types:      make(map[string][]models.ActivityType),
	}

	go s.loadFromDisk(context.Background())

	return s
}

// SetPrefetchFunc registers the best-effort avatar prefetch hook fired after
// bulk activity updates. The hook runs on its own goroutine.
func (s *ActivityService) SetPrefetchFunc(fn func(userIDs []string)) {
	s.mu.Lock()
	s.prefetch = fn
	s.mu.Unlock()
}

func (s *ActivityService) loadFromDisk(ctx context.Context) {
	activities, err := loadPartition[models.Activity](ctx, s.store, activitiesStoreKey)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load activities from disk", "error", err)
		activities = make(map[string][]models.Activity)
	}

	types, err := loadPartition[models.ActivityType](ctx, s.store, activityTypesStoreKey)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load activity types from disk", "error", err)
		types = make(map[string][]models.ActivityType)
	}

	s.loadTimestampsFromStore(ctx)

	s.mu.Lock()
	s.activities = activities
	s.types = types
	s.mu.Unlock()

	if userID, ok := s.currentUser(); ok {
		s.notify(userID)
	}
}

// scheduleSave debounces a durable write of the full service state. The
// closure snapshots state when the timer fires, so intermediate states inside
// a burst are skipped.
func (s *ActivityService) scheduleSave() {
	s.deb.Schedule(func() {
		s.persist(context.Background())
	})
}

func (s *ActivityService) persist(ctx context.Context) {
	s.mu.RLock()
	activities := make(map[string][]models.Activity, len(s.activities))
	for userID, list := range s.activities {
		activities[userID] = snapshot(list)
	}
	types := make(map[string][]models.ActivityType, len(s.types))
	for userID, list := range s.types {
		types[userID] = snapshot(list)
	}
	s.mu.RUnlock()

	savePartition(ctx, s.store, activitiesStoreKey, activities, s.log)
	savePartition(ctx, s.store, activityTypesStoreKey, types, s.log)
	s.persistTimestamps(ctx)
}

// GetCurrentUserActivities returns the signed-in user's cached activities
// with expired entries filtered out. When filtering removed anything the
// trimmed set replaces the stored one so the durable copy converges to the
// filtered view. Returns an empty slice when no user is signed in.
func (s *ActivityService) GetCurrentUserActivities() []models.Activity {
	userID, ok := s.currentUser()
	if !ok {
		return []models.Activity{}
	}

	live, removed := s.dropExpired(userID)
	if removed {
		s.scheduleSave()
		s.notify(userID)
	}

	return live
}

// dropExpired replaces userID's stored activities with the non-expired subset
// and returns a snapshot of it, reporting whether anything was removed.
func (s *ActivityService) dropExpired(userID string) ([]models.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.activities[userID]
	live := make([]models.Activity, 0, len(stored))
	for _, a := range stored {
		if !a.IsExpired {
			live = append(live, a)
		}
	}

	removed := len(live) != len(stored)
	if removed {
		s.activities[userID] = live
	}

	return snapshot(live), removed
}

// PruneExpired drops expired activities for the signed-in user. Used by the
// coordinator after a cold-cache refresh.
func (s *ActivityService) PruneExpired() {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	if _, removed := s.dropExpired(userID); removed {
		s.scheduleSave()
		s.notify(userID)
	}
}

// GetCurrentUserActivityTypes returns the signed-in user's cached activity
// types, or an empty slice when no user is signed in.
func (s *ActivityService) GetCurrentUserActivityTypes() []models.ActivityType {
	userID, ok := s.currentUser()
	if !ok {
		return []models.ActivityType{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.types[userID])
}

// GetActivitiesForUser returns one user's cached activities without expiry
// filtering. Mainly used by the coordinator and tests.
func (s *ActivityService) GetActivitiesForUser(userID string) []models.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.activities[userID])
}

// UpdateActivitiesForUser fully replaces one user's activity collection,
// bumps the ledger and schedules a durable write. Avatar prefetch for
// participants runs off the calling path.
func (s *ActivityService) UpdateActivitiesForUser(items []models.Activity, userID string) {
	normalized := normalizeByID(items, activityID)

	s.mu.Lock()
	s.activities[userID] = normalized
	prefetch := s.prefetch
	s.mu.Unlock()

	s.touch(userID, KeyActivities)
	s.scheduleSave()
	s.notify(userID)

	if prefetch != nil {
		participants := participantIDs(normalized)
		if len(participants) > 0 {
			go prefetch(participants)
		}
	}
}

// ParticipantsForUser returns the deduplicated participant ids referenced by
// one user's cached activities.
func (s *ActivityService) ParticipantsForUser(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return participantIDs(s.activities[userID])
}

func participantIDs(activities []models.Activity) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, a := range activities {
		for _, id := range a.ParticipantIDs {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// UpdateActivityTypesForUser fully replaces one user's activity type
// collection.
func (s *ActivityService) UpdateActivityTypesForUser(items []models.ActivityType, userID string) {
	normalized := normalizeByID(items, activityTypeID)

	s.mu.Lock()
	s.types[userID] = normalized
	s.mu.Unlock()

	s.touch(userID, KeyActivityTypes)
	s.scheduleSave()
	s.notify(userID)
}

// UpsertActivity patches a single activity into the current user's
// collection: replaced in place when present, appended when absent.
func (s *ActivityService) UpsertActivity(a models.Activity) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	s.activities[userID] = upsertByID(s.activities[userID], a, activityID)
	s.mu.Unlock()

	s.touch(userID, KeyActivities)
	s.scheduleSave()
	s.notify(userID)
}

// RemoveActivity removes an activity by id from the current user's
// collection. A miss leaves the list unchanged but still schedules a durable
// write.
func (s *ActivityService) RemoveActivity(id string) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	list, removed := removeByID(s.activities[userID], id, activityID)
	s.activities[userID] = list
	s.mu.Unlock()

	s.touch(userID, KeyActivities)
	s.scheduleSave()
	if removed {
		s.notify(userID)
	}
}

// Refresh pulls the current user's activities and activity types from the
// backend and replaces the cached copies. Transport failures are logged and
// swallowed, leaving the cache unchanged.
func (s *ActivityService) Refresh(ctx context.Context) {
	userID, ok := s.refreshAllowed(ctx)
	if !ok {
		return
	}

	params := url.Values{"userId": []string{userID}}

	var activities []models.Activity
	if err := s.api.Fetch(ctx, "/activities", params, &activities); err != nil {
		s.log.WarnContext(ctx, "Failed to refresh activities", "error", err)
	} else {
		s.UpdateActivitiesForUser(activities, userID)
	}

	var types []models.ActivityType
	if err := s.api.Fetch(ctx, "/activity-types", params, &types); err != nil {
		s.log.WarnContext(ctx, "Failed to refresh activity types", "error", err)
	} else {
		s.UpdateActivityTypesForUser(types, userID)
	}
}

// CacheKeys returns the validation keys this service owns.
func (s *ActivityService) CacheKeys() []string {
	return []string{KeyActivities, KeyActivityTypes}
}

// ApplyUpdate applies a validation payload directly, replacing one user's
// collection without a network round trip.
func (s *ActivityService) ApplyUpdate(userID, cacheKey string, payload []byte) error {
	switch cacheKey {
	case KeyActivities:
		var items []models.Activity
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("failed to decode activities payload: %w", err)
		}
		s.UpdateActivitiesForUser(items, userID)
	case KeyActivityTypes:
		var items []models.ActivityType
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("failed to decode activity types payload: %w", err)
		}
		s.UpdateActivityTypesForUser(items, userID)
	default:
		return fmt.Errorf("unknown cache key %q", cacheKey)
	}

	return nil
}

// ClearUser removes one user's activities, types and ledger entries.
func (s *ActivityService) ClearUser(userID string) {
	s.mu.Lock()
	delete(s.activities, userID)
	delete(s.types, userID)
	s.mu.Unlock()

	s.clearUserTimestamps(userID)
	s.scheduleSave()
	s.notify(userID)
}

// ClearAll resets every map and asynchronously removes the durable keys. A
// pending debounced save is cancelled first so it cannot re-create the keys
// after the deletion.
func (s *ActivityService) ClearAll() {
	s.mu.Lock()
	s.activities = make(map[string][]models.Activity)
	s.types = make(map[string][]models.ActivityType)
	s.mu.Unlock()

	s.resetTimestamps()
	s.deb.Cancel()

	go func() {
		ctx := context.Background()
		for _, key := range []string{activitiesStoreKey, activityTypesStoreKey, s.timestampsKey()} {
			if err := s.store.Delete(ctx, key); err != nil {
				s.log.WarnContext(ctx, "Failed to remove durable key", "key", key, "error", err)
			}
		}
	}()
}

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

const profilesStoreKey = "profiles.items"

func profileID(p models.Profile) string { return p.UserID }

// ProfileService caches other users' profiles as viewed by the owning user.
// A 404 on a per-profile refresh prunes the stale local record instead of
// retrying.
type ProfileService struct {
	base
	api *transport.Client

	mu       sync.RWMutex
	profiles map[string][]models.Profile
}

// NewProfileService creates the service and starts the disk load in the
// background.
func NewProfileService(sess session.Session, st store.Store, api *transport.Client, debounce time.Duration) *ProfileService {
	s := &ProfileService{
		base:     newBase("profiles", sess, st, debounce),
		api:      api,
		profiles: make(map[string][]models.Profile),
	}

	go s.loadFromDisk(context.Background())

	return s
}

func (s *ProfileService) loadFromDisk(ctx context.Context) {
	profiles, err := loadPartition[models.Profile](ctx, s.store, profilesStoreKey)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load profiles from disk", "error", err)
		profiles = make(map[string][]models.Profile)
	}

	s.loadTimestampsFromStore(ctx)

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	if userID, ok := s.currentUser(); ok {
		s.notify(userID)
	}
}

func (s *ProfileService) scheduleSave() {
	s.deb.Schedule(func() {
		s.persist(context.Background())
	})
}

func (s *ProfileService) persist(ctx context.Context) {
	s.mu.RLock()
	profiles := make(map[string][]models.Profile, len(s.profiles))
	for userID, list := range s.profiles {
		profiles[userID] = snapshot(list)
	}
	s.mu.RUnlock()

	savePartition(ctx, s.store, profilesStoreKey, profiles, s.log)
	s.persistTimestamps(ctx)
}

// GetViewedProfiles returns every profile cached for the signed-in user, or
// an empty slice when no user is signed in.
func (s *ProfileService) GetViewedProfiles() []models.Profile {
	userID, ok := s.currentUser()
	if !ok {
		return []models.Profile{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.profiles[userID])
}

// GetProfile returns one cached profile from the signed-in user's partition.
func (s *ProfileService) GetProfile(profileUserID string) (models.Profile, bool) {
	userID, ok := s.currentUser()
	if !ok {
		return models.Profile{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles[userID] {
		if p.UserID == profileUserID {
			return p, true
		}
	}

	return models.Profile{}, false
}

// UpdateProfilesForUser fully replaces one user's viewed-profile collection.
func (s *ProfileService) UpdateProfilesForUser(items []models.Profile, userID string) {
	normalized := normalizeByID(items, profileID)

	s.mu.Lock()
	s.profiles[userID] = normalized
	s.mu.Unlock()

	s.touch(userID, KeyProfiles)
	s.scheduleSave()
	s.notify(userID)
}

// UpsertProfile patches a single profile into the current user's collection.
func (s *ProfileService) UpsertProfile(p models.Profile) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	s.profiles[userID] = upsertByID(s.profiles[userID], p, profileID)
	s.mu.Unlock()

	s.touch(userID, KeyProfiles)
	s.scheduleSave()
	s.notify(userID)
}

// RemoveProfile removes a profile by its user id from the current user's
// collection.
func (s *ProfileService) RemoveProfile(profileUserID string) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	list, _ := removeByID(s.profiles[userID], profileUserID, profileID)
	s.profiles[userID] = list
	s.mu.Unlock()

	s.touch(userID, KeyProfiles)
	s.scheduleSave()
	s.notify(userID)
}

// RefreshProfile fetches one profile from the backend and patches it into the
// cache. A 404 prunes the local record: the remote entity no longer exists.
// Other failures are logged and leave the cache unchanged.
func (s *ProfileService) RefreshProfile(ctx context.Context, profileUserID string) {
	if _, ok := s.refreshAllowed(ctx); !ok {
		return
	}

	var profile models.Profile
	err := s.api.Fetch(ctx, "/profiles/"+profileUserID, nil, &profile)
	if err != nil {
		if transport.IsNotFound(err) {
			s.log.InfoContext(ctx, "Profile gone remotely, pruning cached record", "profile_user_id", profileUserID)
			s.RemoveProfile(profileUserID)
			return
		}
		s.log.WarnContext(ctx, "Failed to refresh profile", "profile_user_id", profileUserID, "error", err)
		return
	}

	s.UpsertProfile(profile)
}

// Refresh pulls the current user's viewed profiles from the backend.
// Transport failures are logged and swallowed.
func (s *ProfileService) Refresh(ctx context.Context) {
	userID, ok := s.refreshAllowed(ctx)
	if !ok {
		return
	}

	params := url.Values{"userId": []string{userID}}

	var profiles []models.Profile
	if err := s.api.Fetch(ctx, "/profiles", params, &profiles); err != nil {
		s.log.WarnContext(ctx, "Failed to refresh profiles", "error", err)
		return
	}

	s.UpdateProfilesForUser(profiles, userID)
}

// CacheKeys returns the validation keys this service owns.
func (s *ProfileService) CacheKeys() []string {
	return []string{KeyProfiles}
}

// ApplyUpdate applies a validation payload directly, replacing one user's
// collection without a network round trip.
func (s *ProfileService) ApplyUpdate(userID, cacheKey string, payload []byte) error {
	if cacheKey != KeyProfiles {
		return fmt.Errorf("unknown cache key %q", cacheKey)
	}

	var items []models.Profile
	if err := json.Unmarshal(payload, &items); err != nil {
		return fmt.Errorf("failed to decode profiles payload: %w", err)
	}

	s.UpdateProfilesForUser(items, userID)
	return nil
}

// AvatarSources returns every (user id, avatar URL) pair referenced by one
// user's viewed profiles.
func (s *ProfileService) AvatarSources(userID string) []AvatarRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []AvatarRef
	for _, p := range s.profiles[userID] {
		refs = append(refs, AvatarRef{UserID: p.UserID, URL: p.AvatarURL})
	}

	return refs
}

// ClearUser removes one user's profiles and ledger entries.
func (s *ProfileService) ClearUser(userID string) {
	s.mu.Lock()
	delete(s.profiles, userID)
	s.mu.Unlock()

	s.clearUserTimestamps(userID)
	s.scheduleSave()
	s.notify(userID)
}

// ClearAll resets the map and asynchronously removes the durable keys. A
// pending debounced save is cancelled first so it cannot re-create the keys
// after the deletion.
func (s *ProfileService) ClearAll() {
	s.mu.Lock()
	s.profiles = make(map[string][]models.Profile)
	s.mu.Unlock()

	s.resetTimestamps()
	s.deb.Cancel()

	go func() {
		ctx := context.Background()
		for _, key := range []string{profilesStoreKey, s.timestampsKey()} {
			if err := s.store.Delete(ctx, key); err != nil {
				s.log.WarnContext(ctx, "Failed to remove durable key", "key", key, "error", err)
			}
		}
	}()
}

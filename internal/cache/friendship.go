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
	friendsStoreKey  = "friendship.friends"
	incomingStoreKey = "friendship.incoming"
	outgoingStoreKey = "friendship.outgoing"
)

func friendID(f models.Friend) string         { return f.UserID }
func requestID(r models.FriendRequest) string { return r.ID }

// FriendshipService caches confirmed friends and pending requests in both
// directions, per owning user. Request partitions are normalized on every
// write path: placeholder ids dropped, duplicate ids deduplicated with the
// first occurrence winning.
type FriendshipService struct {
	base
	api *transport.Client

	mu       sync.RWMutex
	friends  map[string][]models.Friend
	incoming map[string][]models.FriendRequest
	outgoing map[string][]models.FriendRequest
}

// NewFriendshipService creates the service and starts the disk load in the
// background.
func NewFriendshipService(sess session.Session, st store.Store, api *transport.Client, debounce time.Duration) *FriendshipService {
	s := &FriendshipService{
		base:     newBase("friendship", sess, st, debounce),
		api:      api,
		friends:  make(map[string][]models.Friend),
		incoming: make(map[string][]models.FriendRequest),
		outgoing: make(map[string][]models.FriendRequest),
	}

	go s.loadFromDisk(context.Background())

	return s
}

func (s *FriendshipService) loadFromDisk(ctx context.Context) {
	friends, err := loadPartition[models.Friend](ctx, s.store, friendsStoreKey)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load friends from disk", "error", err)
		friends = make(map[string][]models.Friend)
	}

	incoming, err := loadPartition[models.FriendRequest](ctx, s.store, incomingStoreKey)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load incoming requests from disk", "error", err)
		incoming = make(map[string][]models.FriendRequest)
	}

	outgoing, err := loadPartition[models.FriendRequest](ctx, s.store, outgoingStoreKey)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to load outgoing requests from disk", "error", err)
		outgoing = make(map[string][]models.FriendRequest)
	}

	s.loadTimestampsFromStore(ctx)

	s.mu.Lock()
	s.friends = friends
	s.incoming = incoming
	s.outgoing = outgoing
	s.mu.Unlock()

	if userID, ok := s.currentUser(); ok {
		s.notify(userID)
	}
}

func (s *FriendshipService) scheduleSave() {
	s.deb.Schedule(func() {
		s.persist(context.Background())
	})
}

func (s *FriendshipService) persist(ctx context.Context) {
	s.mu.RLock()
	friends := make(map[string][]models.Friend, len(s.friends))
	for userID, list := range s.friends {
		friends[userID] = snapshot(list)
	}
	incoming := make(map[string][]models.FriendRequest, len(s.incoming))
	for userID, list := range s.incoming {
		incoming[userID] = snapshot(list)
	}
	outgoing := make(map[string][]models.FriendRequest, len(s.outgoing))
	for userID, list := range s.outgoing {
		outgoing[userID] = snapshot(list)
	}
	s.mu.RUnlock()

	savePartition(ctx, s.store, friendsStoreKey, friends, s.log)
	savePartition(ctx, s.store, incomingStoreKey, incoming, s.log)
	savePartition(ctx, s.store, outgoingStoreKey, outgoing, s.log)
	s.persistTimestamps(ctx)
}

// GetCurrentUserFriends returns the signed-in user's cached friends, or an
// empty slice when no user is signed in.
func (s *FriendshipService) GetCurrentUserFriends() []models.Friend {
	userID, ok := s.currentUser()
	if !ok {
		return []models.Friend{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.friends[userID])
}

// GetIncomingRequests returns the signed-in user's pending incoming requests.
func (s *FriendshipService) GetIncomingRequests() []models.FriendRequest {
	userID, ok := s.currentUser()
	if !ok {
		return []models.FriendRequest{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.incoming[userID])
}

// GetOutgoingRequests returns the signed-in user's pending outgoing requests.
func (s *FriendshipService) GetOutgoingRequests() []models.FriendRequest {
	userID, ok := s.currentUser()
	if !ok {
		return []models.FriendRequest{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.outgoing[userID])
}

// GetFriendsForUser returns one user's cached friends. Mainly for tests.
func (s *FriendshipService) GetFriendsForUser(userID string) []models.Friend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.friends[userID])
}

// UpdateFriendsForUser fully replaces one user's friend collection.
func (s *FriendshipService) UpdateFriendsForUser(items []models.Friend, userID string) {
	normalized := normalizeByID(items, friendID)

	s.mu.Lock()
	s.friends[userID] = normalized
	s.mu.Unlock()

	s.touch(userID, KeyFriends)
	s.scheduleSave()
	s.notify(userID)
}

// UpdateIncomingRequestsForUser fully replaces one user's incoming request
// collection.
func (s *FriendshipService) UpdateIncomingRequestsForUser(items []models.FriendRequest, userID string) {
	normalized := normalizeByID(items, requestID)

	s.mu.Lock()
	s.incoming[userID] = normalized
	s.mu.Unlock()

	s.touch(userID, KeyIncomingRequests)
	s.scheduleSave()
	s.notify(userID)
}

// UpdateOutgoingRequestsForUser fully replaces one user's outgoing request
// collection.
func (s *FriendshipService) UpdateOutgoingRequestsForUser(items []models.FriendRequest, userID string) {
	normalized := normalizeByID(items, requestID)

	s.mu.Lock()
	s.outgoing[userID] = normalized
	s.mu.Unlock()

	s.touch(userID, KeyOutgoingRequests)
	s.scheduleSave()
	s.notify(userID)
}

// UpsertFriend patches a single friend into the current user's collection.
func (s *FriendshipService) UpsertFriend(f models.Friend) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	s.friends[userID] = upsertByID(s.friends[userID], f, friendID)
	s.mu.Unlock()

	s.touch(userID, KeyFriends)
	s.scheduleSave()
	s.notify(userID)
}

// RemoveFriend removes a friend by their user id from the current user's
// collection.
func (s *FriendshipService) RemoveFriend(friendUserID string) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	list, _ := removeByID(s.friends[userID], friendUserID, friendID)
	s.friends[userID] = list
	s.mu.Unlock()

	s.touch(userID, KeyFriends)
	s.scheduleSave()
	s.notify(userID)
}

// UpsertIncomingRequest patches a single incoming request into the current
// user's collection. Placeholder ids are ignored.
func (s *FriendshipService) UpsertIncomingRequest(r models.FriendRequest) {
	userID, ok := s.currentUser()
	if !ok || r.ID == "" || r.ID == placeholderID {
		return
	}

	s.mu.Lock()
	s.incoming[userID] = upsertByID(s.incoming[userID], r, requestID)
	s.mu.Unlock()

	s.touch(userID, KeyIncomingRequests)
	s.scheduleSave()
	s.notify(userID)
}

// RemoveIncomingRequest removes an incoming request by id.
func (s *FriendshipService) RemoveIncomingRequest(id string) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	list, _ := removeByID(s.incoming[userID], id, requestID)
	s.incoming[userID] = list
	s.mu.Unlock()

	s.touch(userID, KeyIncomingRequests)
	s.scheduleSave()
	s.notify(userID)
}

// UpsertOutgoingRequest patches a single outgoing request into the current
// user's collection. Placeholder ids are ignored.
func (s *FriendshipService) UpsertOutgoingRequest(r models.FriendRequest) {
	userID, ok := s.currentUser()
	if !ok || r.ID == "" || r.ID == placeholderID {
		return
	}

	s.mu.Lock()
	s.outgoing[userID] = upsertByID(s.outgoing[userID], r, requestID)
	s.mu.Unlock()

	s.touch(userID, KeyOutgoingRequests)
	s.scheduleSave()
	s.notify(userID)
}

// RemoveOutgoingRequest removes an outgoing request by id.
func (s *FriendshipService) RemoveOutgoingRequest(id string) {
	userID, ok := s.currentUser()
	if !ok {
		return
	}

	s.mu.Lock()
	list, _ := removeByID(s.outgoing[userID], id, requestID)
	s.outgoing[userID] = list
	s.mu.Unlock()

	s.touch(userID, KeyOutgoingRequests)
	s.scheduleSave()
	s.notify(userID)
}

// Refresh pulls the current user's friends and pending requests from the
// backend. Each fetch fails independently; failures are logged and swallowed.
func (s *FriendshipService) Refresh(ctx context.Context) {
	userID, ok := s.refreshAllowed(ctx)
	if !ok {
		return
	}

	params := url.Values{"userId": []string{userID}}

	var friends []models.Friend
	if err := s.api.Fetch(ctx, "/friends", params, &friends); err != nil {
		s.log.WarnContext(ctx, "Failed to refresh friends", "error", err)
	} else {
		s.UpdateFriendsForUser(friends, userID)
	}

	var incoming []models.FriendRequest
	if err := s.api.Fetch(ctx, "/friend-requests/incoming", params, &incoming); err != nil {
		s.log.WarnContext(ctx, "Failed to refresh incoming requests", "error", err)
	} else {
		s.UpdateIncomingRequestsForUser(incoming, userID)
	}

	var outgoing []models.FriendRequest
	if err := s.api.Fetch(ctx, "/friend-requests/outgoing", params, &outgoing); err != nil {
		s.log.WarnContext(ctx, "Failed to refresh outgoing requests", "error", err)
	} else {
		s.UpdateOutgoingRequestsForUser(outgoing, userID)
	}
}

// CacheKeys returns the validation keys this service owns.
func (s *FriendshipService) CacheKeys() []string {
	return []string{KeyFriends, KeyIncomingRequests, KeyOutgoingRequests}
}

// ApplyUpdate applies a validation payload directly, replacing one user's
// collection without a network round trip.
func (s *FriendshipService) ApplyUpdate(userID, cacheKey string, payload []byte) error {
	switch cacheKey {
	case KeyFriends:
		var items []models.Friend
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("failed to decode friends payload: %w", err)
		}
		s.UpdateFriendsForUser(items, userID)
	case KeyIncomingRequests:
		var items []models.FriendRequest
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("failed to decode incoming requests payload: %w", err)
		}
		s.UpdateIncomingRequestsForUser(items, userID)
	case KeyOutgoingRequests:
		var items []models.FriendRequest
		if err := json.Unmarshal(payload, &items); err != nil {
			return fmt.Errorf("failed to decode outgoing requests payload: %w", err)
		}
		s.UpdateOutgoingRequestsForUser(items, userID)
	default:
		return fmt.Errorf("unknown cache key %q", cacheKey)
	}

	return nil
}

// AvatarSources returns every (user id, avatar URL) pair referenced by one
// user's friendship caches: friends plus requests in either direction.
func (s *FriendshipService) AvatarSources(userID string) []AvatarRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []AvatarRef
	for _, f := range s.friends[userID] {
		refs = append(refs, AvatarRef{UserID: f.UserID, URL: f.AvatarURL})
	}
	for _, r := range s.incoming[userID] {
		refs = append(refs, AvatarRef{UserID: r.FromUserID, URL: r.SenderAvatarURL})
	}
	for _, r := range s.outgoing[userID] {
		refs = append(refs, AvatarRef{UserID: r.ToUserID})
	}

	return refs
}

// ClearUser removes one user's friendship data and ledger entries.
func (s *FriendshipService) ClearUser(userID string) {
	s.mu.Lock()
	delete(s.friends, userID)
	delete(s.incoming, userID)
	delete(s.outgoing, userID)
	s.mu.Unlock()

	s.clearUserTimestamps(userID)
	s.scheduleSave()
	s.notify(userID)
}

// ClearAll resets every map and asynchronously removes the durable keys. A
// pending debounced save is cancelled first so it cannot re-create the keys
// after the deletion.
func (s *FriendshipService) ClearAll() {
	s.mu.Lock()
	s.friends = make(map[string][]models.Friend)
	s.incoming = make(map[string][]models.FriendRequest)
	s.outgoing = make(map[string][]models.FriendRequest)
	s.mu.Unlock()

	s.resetTimestamps()
	s.deb.Cancel()

	go func() {
		ctx := context.Background()
		for _, key := range []string{friendsStoreKey, incomingStoreKey, outgoingStoreKey, s.timestampsKey()} {
			if err := s.store.Delete(ctx, key); err != nil {
				s.log.WarnContext(ctx, "Failed to remove durable key", "key", key, "error", err)
			}
		}
	}()
}

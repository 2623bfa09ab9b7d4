// Package models holds the server-owned entity shapes cached by the sync
// engine. They are treated as opaque serializable records; the engine never
// interprets them beyond their id and expiry fields.
package models

import "time"

// Activity is a planned event owned by the backend.
type Activity struct {
	ID             string    `json:"id"`
	TypeID         string    `json:"typeId"`
	Title          string    `json:"title"`
	Location       string    `json:"location,omitempty"`
	StartsAt       time.Time `json:"startsAt"`
	EndsAt         time.Time `json:"endsAt"`
	CreatorID      string    `json:"creatorId"`
	ParticipantIDs []string  `json:"participantIds,omitempty"`
	// IsExpired is computed server-side; expired activities are filtered out
	// of every read and pruned from the durable copy.
	IsExpired bool `json:"isExpired"`
}

// ActivityType categorizes activities (dinner, hike, game night, ...).
type ActivityType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Friend is a confirmed friendship edge as seen by one user.
type Friend struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// FriendRequest is a pending friendship request in either direction.
type FriendRequest struct {
	ID              string    `json:"id"`
	FromUserID      string    `json:"fromUserId"`
	ToUserID        string    `json:"toUserId"`
	SenderAvatarURL string    `json:"senderAvatarUrl,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

// Profile is another user's public profile as viewed by the current user.
type Profile struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Package session exposes the signed-in user to the cache layer.
package session

import "sync"

// Session reports the current signed-in user. The cache services treat an
// absent or unauthenticated session as "serve empty, skip network".
type Session interface {
	// CurrentUserID returns the signed-in user id, if any.
	CurrentUserID() (string, bool)
	// IsAuthenticated reports whether the session holds valid credentials.
	IsAuthenticated() bool
}

// StaticSession is a thread-safe in-process session holder.
type StaticSession struct {
	mu            sync.RWMutex
	userID        string
	authenticated bool
}

// NewStaticSession creates an empty, signed-out session.
func NewStaticSession() *StaticSession {
	return &StaticSession{}
}

// SignIn records userID as the signed-in, authenticated user.
func (s *StaticSession) SignIn(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.authenticated = true
}

// SignOut clears the session.
func (s *StaticSession) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.authenticated = false
}

func (s *StaticSession) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

func (s *StaticSession) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the per-connection state. It lives exactly as long as its handle.
type Session struct {
	ConnID        uuid.UUID
	UserID        string
	Authenticated bool
	OpenedAt      time.Time

	mu     sync.Mutex
	joined []string // join order, oldest first
}

func NewSession(connID uuid.UUID, userID string) *Session {
	return &Session{
		ConnID:        connID,
		UserID:        userID,
		Authenticated: userID != "",
		OpenedAt:      time.Now(),
	}
}

// ActiveConversation is the most recently joined conversation, or "".
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.joined) == 0 {
		return ""
	}
	return s.joined[len(s.joined)-1]
}

func (s *Session) Conversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.joined))
	copy(out, s.joined)
	return out
}

func (s *Session) IsJoined(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(convID) >= 0
}

// Join records convID; it reports false when the session was already joined.
func (s *Session) Join(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(convID) >= 0 {
		return false
	}
	s.joined = append(s.joined, convID)
	return true
}

// Leave drops convID; it reports false when the session was not joined.
func (s *Session) Leave(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(convID)
	if i < 0 {
		return false
	}
	s.joined = append(s.joined[:i], s.joined[i+1:]...)
	return true
}

// Reset forgets every joined conversation and returns them, oldest first.
func (s *Session) Reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.joined
	s.joined = nil
	return out
}

func (s *Session) indexLocked(convID string) int {
	for i, c := range s.joined {
		if c == convID {
			return i
		}
	}
	return -1
}

// Package domain defines the core domain models for the chat service.
package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
	SessionStatusDeleted  SessionStatus = "deleted"
)

// DefaultSessionTitle is used until a real title has been generated.
const DefaultSessionTitle = "Nova Conversa"

// Session is a conversation owning an ordered, append-only list of messages.
type Session struct {
	ID             string        `json:"id"`
	Title          string        `json:"title,omitempty"`
	Status         SessionStatus `json:"status"`
	Metadata       Metadata      `json:"metadata,omitempty"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Touch bumps the session's activity timestamp.
func (s *Session) Touch() {
	now := time.Now()
	s.LastActivityAt = now
	s.UpdatedAt = now
}

// HasGeneratedTitle reports whether the session already carries a title that
// did not come from the default or the first-words heuristic, in which case
// title generation should not run again.
func (s *Session) HasGeneratedTitle() bool {
	if s.Title == "" || s.Title == DefaultSessionTitle {
		return false
	}
	if gen, ok := s.Metadata["titleGenerated"].(bool); ok {
		return gen
	}
	return false
}

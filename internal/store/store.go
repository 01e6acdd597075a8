// Package store defines the session/message storage interface and its
// SQLite implementation.
package store

import (
	"context"

	"github.com/andresouza/chatd/internal/domain"
)

// Store is the narrow persistence contract the chat service depends on.
// Implementations are durable and strongly consistent within one session's
// own history.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	// GetSession returns (nil, nil) when the session does not exist or has
	// been soft-deleted.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string, metadata domain.Metadata) error
	TouchSession(ctx context.Context, sessionID string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	// GetMessage returns (nil, nil) when the message does not exist.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	// GetMessages returns the most recent limit messages of a session in
	// chronological order.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	UpdateMessageAttachments(ctx context.Context, messageID string, attachments []domain.Attachment) error

	// Lifecycle
	Close() error
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andresouza/chatd/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			metadata TEXT,
			last_activity_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata TEXT,
			attachments TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, status, metadata, last_activity_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Status, string(metadata),
		session.LastActivityAt, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession retrieves a session by ID. Soft-deleted sessions are invisible.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var title, metadata sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, status, metadata, last_activity_at, created_at, updated_at
		 FROM sessions WHERE session_id = ? AND status != ?`,
		sessionID, domain.SessionStatusDeleted).
		Scan(&session.ID, &title, &session.Status, &metadata,
			&session.LastActivityAt, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Title = title.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &session, nil
}

// UpdateSessionTitle sets a session's title, merging any metadata provided.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, sessionID, title string, metadata domain.Metadata) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}

	merged := session.Metadata
	if merged == nil {
		merged = domain.Metadata{}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, metadata = ?, updated_at = ? WHERE session_id = ?`,
		title, string(encoded), time.Now(), sessionID)
	return err
}

// TouchSession bumps a session's activity timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ?, updated_at = ? WHERE session_id = ?`,
		now, now, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// CreateMessage appends a message to a session.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	metadata, err := json.Marshal(message.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	attachments, err := json.Marshal(message.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, status, metadata, attachments, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Role, message.Content, message.Status,
		string(metadata), string(attachments), message.CreatedAt, message.UpdatedAt)
	return err
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	var metadata, attachments sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, session_id, role, content, status, metadata, attachments, created_at, updated_at
		 FROM messages WHERE message_id = ?`, messageID).
		Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Status,
			&metadata, &attachments, &msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if attachments.Valid && attachments.String != "" && attachments.String != "null" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}

// GetMessages returns the most recent limit messages in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, status, metadata, attachments, created_at, updated_at
		 FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY created_at DESC, message_id DESC LIMIT ?
		 ) ORDER BY created_at ASC, message_id ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var metadata, attachments sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Status,
			&metadata, &attachments, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if attachments.Valid && attachments.String != "" && attachments.String != "null" {
			if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateMessageAttachments replaces a message's attachment list. The only
// mutation allowed on a delivered message.
func (s *SQLiteStore) UpdateMessageAttachments(ctx context.Context, messageID string, attachments []domain.Attachment) error {
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET attachments = ?, updated_at = ? WHERE message_id = ?`,
		string(encoded), time.Now(), messageID)
	return err
}

package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusDelivered  MessageStatus = "delivered"
	MessageStatusError      MessageStatus = "error"
	MessageStatusProcessing MessageStatus = "processing"
)

// Metadata is a schema-light string-keyed map attached to sessions and
// messages. Values survive a JSON round trip unchanged.
type Metadata map[string]any

// Attachment is a file attached to a message, typically a generated image.
type Attachment struct {
	Type           string   `json:"type"`
	URL            string   `json:"url"`
	Filename       string   `json:"filename,omitempty"`
	OriginalPrompt string   `json:"originalPrompt,omitempty"`
	Metadata       Metadata `json:"metadata,omitempty"`
}

// Message is a single message in a session. A delivered message is immutable
// except for attachment appends.
type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"sessionId"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	Status      MessageStatus `json:"status"`
	Metadata    Metadata      `json:"metadata,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// AddAttachment appends an attachment to the message.
func (m *Message) AddAttachment(a Attachment) {
	m.Attachments = append(m.Attachments, a)
	m.UpdatedAt = time.Now()
}

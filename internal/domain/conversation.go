package domain

import (
	"fmt"
	"time"
)

// DefaultConversationTitle is assigned when a turn auto-creates a conversation.
const DefaultConversationTitle = "New conversation"

// Conversation represents a chat thread owned by a user. Conversations are
// soft-deleted, never hard-deleted by this core.
type Conversation struct {
	ID           string
	UserID       string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// NewConversation creates a new Conversation instance
func NewConversation(id, userID, title string, createdAt time.Time) *Conversation {
	if title == "" {
		title = DefaultConversationTitle
	}
	return &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// IsDeleted returns true if the conversation has been soft-deleted
func (c *Conversation) IsDeleted() bool {
	return c.DeletedAt != nil
}

// ValidateConversation validates a Conversation instance
func ValidateConversation(c *Conversation) error {
	if c == nil {
		return fmt.Errorf("conversation cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("conversation ID is required")
	}

	if c.UserID == "" {
		return fmt.Errorf("conversation UserID is required")
	}

	if c.Title == "" {
		return fmt.Errorf("conversation Title is required")
	}

	if c.MessageCount < 0 {
		return fmt.Errorf("conversation MessageCount cannot be negative")
	}

	return nil
}

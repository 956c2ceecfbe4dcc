package domain

import (
	"fmt"
	"time"
)

// MessageRole represents who authored a message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// MessageStatus represents the lifecycle state of a message
type MessageStatus string

const (
	MessageStatusGenerating MessageStatus = "generating"
	MessageStatusCompleted  MessageStatus = "completed"
	MessageStatusStopped    MessageStatus = "stopped"
	MessageStatusFailed     MessageStatus = "failed"
)

// Recognized message metadata keys. Metadata is a typed map with a closed set
// of recognized keys; unrecognized keys are carried through untouched.
const (
	MetaContext            = "context"
	MetaKnowledgeUsed      = "knowledgeUsed"
	MetaKnowledgeItemCount = "knowledgeItemCount"
	MetaStreamed           = "streamed"
	MetaUserContext        = "userContext"
)

// Message represents one message within a conversation. Assistant messages
// reference the user message of the same turn through ParentID.
type Message struct {
	ID             string
	ConversationID string
	ParentID       string // Optional: user message that triggered this reply
	Role           MessageRole
	Content        string
	Status         MessageStatus
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewMessage creates a new Message instance
func NewMessage(id, conversationID, parentID string, role MessageRole, content string, createdAt time.Time) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		ParentID:       parentID,
		Role:           role,
		Content:        content,
		Status:         MessageStatusCompleted,
		Metadata:       map[string]any{},
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

// IsTerminal reports whether the message status is terminal. Terminal messages
// are immutable except for status transitions.
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case MessageStatusCompleted, MessageStatusStopped, MessageStatusFailed:
		return true
	}
	return false
}

// ValidateMessage validates a Message instance
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}

	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}

	if m.ConversationID == "" {
		return fmt.Errorf("message ConversationID is required")
	}

	if m.Content == "" {
		return fmt.Errorf("message Content is required")
	}

	if !isValidMessageRole(m.Role) {
		return fmt.Errorf("message Role is invalid: %s", m.Role)
	}

	if !isValidMessageStatus(m.Status) {
		return fmt.Errorf("message Status is invalid: %s", m.Status)
	}

	if m.Role == MessageRoleAssistant && m.ParentID == "" {
		return fmt.Errorf("assistant message requires a ParentID")
	}

	return nil
}

// isValidMessageRole checks if a MessageRole is valid
func isValidMessageRole(r MessageRole) bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}

// isValidMessageStatus checks if a MessageStatus is valid
func isValidMessageStatus(s MessageStatus) bool {
	switch s {
	case MessageStatusGenerating, MessageStatusCompleted, MessageStatusStopped, MessageStatusFailed:
		return true
	}
	return false
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	now := time.Now()
	msg := NewMessage("m1", "c1", "", MessageRoleUser, "hello", now)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, MessageRoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, MessageStatusCompleted, msg.Status)
	assert.Equal(t, now, msg.CreatedAt)
	assert.NotNil(t, msg.Metadata)
}

func TestValidateMessage(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		message *Message
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid user message",
			message: &Message{
				ID:             "m1",
				ConversationID: "c1",
				Role:           MessageRoleUser,
				Content:        "hello",
				Status:         MessageStatusCompleted,
				CreatedAt:      now,
			},
			wantErr: false,
		},
		{
			name: "valid assistant message with parent",
			message: &Message{
				ID:             "m2",
				ConversationID: "c1",
				ParentID:       "m1",
				Role:           MessageRoleAssistant,
				Content:        "hi there",
				Status:         MessageStatusCompleted,
				CreatedAt:      now,
			},
			wantErr: false,
		},
		{
			name: "missing ID",
			message: &Message{
				ConversationID: "c1",
				Role:           MessageRoleUser,
				Content:        "hello",
				Status:         MessageStatusCompleted,
			},
			wantErr: true,
			errMsg:  "ID",
		},
		{
			name: "missing ConversationID",
			message: &Message{
				ID:      "m1",
				Role:    MessageRoleUser,
				Content: "hello",
				Status:  MessageStatusCompleted,
			},
			wantErr: true,
			errMsg:  "ConversationID",
		},
		{
			name: "invalid role",
			message: &Message{
				ID:             "m1",
				ConversationID: "c1",
				Role:           MessageRole("robot"),
				Content:        "hello",
				Status:         MessageStatusCompleted,
			},
			wantErr: true,
			errMsg:  "Role",
		},
		{
			name: "invalid status",
			message: &Message{
				ID:             "m1",
				ConversationID: "c1",
				Role:           MessageRoleUser,
				Content:        "hello",
				Status:         MessageStatus("thinking"),
			},
			wantErr: true,
			errMsg:  "Status",
		},
		{
			name: "assistant message without parent",
			message: &Message{
				ID:             "m2",
				ConversationID: "c1",
				Role:           MessageRoleAssistant,
				Content:        "hi there",
				Status:         MessageStatusCompleted,
			},
			wantErr: true,
			errMsg:  "ParentID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.message)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMessageIsTerminal(t *testing.T) {
	tests := []struct {
		status   MessageStatus
		expected bool
	}{
		{MessageStatusGenerating, false},
		{MessageStatusCompleted, true},
		{MessageStatusStopped, true},
		{MessageStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			msg := &Message{Status: tt.status}
			assert.Equal(t, tt.expected, msg.IsTerminal())
		})
	}
}

package domain

import (
	"fmt"
	"time"
)

// Feedback represents a user's rating of an assistant message
type Feedback struct {
	ID        string
	MessageID string
	UserID    string
	Rating    int // +1 or -1
	Comment   string
	CreatedAt time.Time
}

// NewFeedback creates a new Feedback instance
func NewFeedback(id, messageID, userID string, rating int, comment string, createdAt time.Time) *Feedback {
	return &Feedback{
		ID:        id,
		MessageID: messageID,
		UserID:    userID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: createdAt,
	}
}

// ValidateFeedback validates a Feedback instance
func ValidateFeedback(f *Feedback) error {
	if f == nil {
		return fmt.Errorf("feedback cannot be nil")
	}

	if f.ID == "" {
		return fmt.Errorf("feedback ID is required")
	}

	if f.MessageID == "" {
		return fmt.Errorf("feedback MessageID is required")
	}

	if f.UserID == "" {
		return fmt.Errorf("feedback UserID is required")
	}

	if f.Rating != 1 && f.Rating != -1 {
		return fmt.Errorf("feedback Rating must be +1 or -1, got %d", f.Rating)
	}

	return nil
}

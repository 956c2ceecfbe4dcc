package service

import (
	"context"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
)

// FeedbackRepositoryInterface defines the repository interface for feedback persistence
type FeedbackRepositoryInterface interface {
	Create(ctx context.Context, f *domain.Feedback) error
	ListByMessage(ctx context.Context, messageID string) ([]*domain.Feedback, error)
}

// FeedbackMessageRepository verifies the rated message exists
type FeedbackMessageRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
}

// FeedbackService handles business logic for message feedback
type FeedbackService struct {
	feedbackRepo FeedbackRepositoryInterface
	messageRepo  FeedbackMessageRepository
	uuidGen      UUIDGenerator
}

// NewFeedbackService creates a new FeedbackService instance
func NewFeedbackService(
	feedbackRepo FeedbackRepositoryInterface,
	messageRepo FeedbackMessageRepository,
) *FeedbackService {
	return &FeedbackService{
		feedbackRepo: feedbackRepo,
		messageRepo:  messageRepo,
		uuidGen:      &DefaultUUIDGenerator{},
	}
}

// NewFeedbackServiceWithUUIDGen creates a new FeedbackService with a custom UUID generator (for testing)
func NewFeedbackServiceWithUUIDGen(
	feedbackRepo FeedbackRepositoryInterface,
	messageRepo FeedbackMessageRepository,
	uuidGen UUIDGenerator,
) *FeedbackService {
	s := NewFeedbackService(feedbackRepo, messageRepo)
	s.uuidGen = uuidGen
	return s
}

// SubmitFeedbackInput represents the input for submitting feedback
type SubmitFeedbackInput struct {
	MessageID string
	UserID    string
	Rating    int
	Comment   string
}

// Submit records a rating against an existing message
func (s *FeedbackService) Submit(ctx context.Context, input SubmitFeedbackInput) (*domain.Feedback, error) {
	if _, err := s.messageRepo.GetByID(ctx, input.MessageID); err != nil {
		return nil, err
	}

	feedback := domain.NewFeedback(
		s.uuidGen.NewString(),
		input.MessageID,
		input.UserID,
		input.Rating,
		input.Comment,
		time.Now().UTC(),
	)

	if err := domain.ValidateFeedback(feedback); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid feedback", err)
	}

	if err := s.feedbackRepo.Create(ctx, feedback); err != nil {
		return nil, err
	}

	return feedback, nil
}

// ListByMessage retrieves all feedback for a message
func (s *FeedbackService) ListByMessage(ctx context.Context, messageID string) ([]*domain.Feedback, error) {
	return s.feedbackRepo.ListByMessage(ctx, messageID)
}

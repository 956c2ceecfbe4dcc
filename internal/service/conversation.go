package service

import (
	"context"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/pagination"
	"github.com/corvid-labs/corvid/internal/telemetry"
)

// ConversationRepositoryInterface defines the repository interface for conversation persistence
type ConversationRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*ConversationPageResult, error)
	Update(ctx context.Context, c *domain.Conversation) error
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
}

type ConversationPageResult struct {
	Items      []*domain.Conversation
	NextCursor string
	HasMore    bool
}

// MessageRepositoryInterface defines the repository interface for message reads
type MessageRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

// ConversationService handles business logic for conversations
type ConversationService struct {
	conversationRepo ConversationRepositoryInterface
	messageRepo      MessageRepositoryInterface
	uuidGen          UUIDGenerator
}

// NewConversationService creates a new ConversationService instance
func NewConversationService(
	conversationRepo ConversationRepositoryInterface,
	messageRepo MessageRepositoryInterface,
) *ConversationService {
	return &ConversationService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		uuidGen:          &DefaultUUIDGenerator{},
	}
}

// NewConversationServiceWithUUIDGen creates a new ConversationService with a custom UUID generator (for testing)
func NewConversationServiceWithUUIDGen(
	conversationRepo ConversationRepositoryInterface,
	messageRepo MessageRepositoryInterface,
	uuidGen UUIDGenerator,
) *ConversationService {
	s := NewConversationService(conversationRepo, messageRepo)
	s.uuidGen = uuidGen
	return s
}

// CreateConversationInput represents the input for creating a conversation
type CreateConversationInput struct {
	UserID string
	Title  string
}

type ListConversationsInput struct {
	UserID string
	Cursor string
	Limit  int
}

type ListConversationsOutput struct {
	Items   []*domain.Conversation
	Cursor  string
	HasMore bool
}

// Create creates a new conversation for a user
func (s *ConversationService) Create(ctx context.Context, input CreateConversationInput) (*domain.Conversation, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConversationService.Create", telemetry.SpanAttributes{
		UserID:    input.UserID,
		Operation: "create",
	})
	defer span.End()

	conversation := domain.NewConversation(s.uuidGen.NewString(), input.UserID, input.Title, time.Now().UTC())

	if err := domain.ValidateConversation(conversation); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid conversation", err)
	}

	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

// GetByID retrieves a conversation by ID. Soft-deleted conversations read as
// not found.
func (s *ConversationService) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversation.IsDeleted() {
		return nil, domain.ErrConversationNotFound
	}
	return conversation, nil
}

// ListByUser retrieves a user's conversations with cursor pagination
func (s *ConversationService) ListByUser(ctx context.Context, input ListConversationsInput) (*ListConversationsOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConversationService.ListByUser", telemetry.SpanAttributes{
		UserID:    input.UserID,
		Operation: "list",
	})
	defer span.End()

	if input.UserID == "" {
		return nil, domain.ErrMissingRequiredField
	}

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.conversationRepo.ListByUserWithCursor(ctx, input.UserID, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListConversationsOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}

// ListMessages retrieves all messages of a conversation in chronological order
func (s *ConversationService) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	if _, err := s.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListByConversation(ctx, conversationID)
}

// UpdateTitle renames a conversation
func (s *ConversationService) UpdateTitle(ctx context.Context, id, title string) (*domain.Conversation, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConversationService.UpdateTitle", telemetry.SpanAttributes{
		ConversationID: id,
		Operation:      "update",
	})
	defer span.End()

	if title == "" {
		return nil, domain.ErrMissingRequiredField
	}

	conversation, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	conversation.Title = title
	conversation.UpdatedAt = time.Now().UTC()

	if err := s.conversationRepo.Update(ctx, conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

// Delete soft-deletes a conversation. Messages are retained.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "ConversationService.Delete", telemetry.SpanAttributes{
		ConversationID: id,
		Operation:      "delete",
	})
	defer span.End()

	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}

	return s.conversationRepo.SoftDelete(ctx, id, time.Now().UTC())
}

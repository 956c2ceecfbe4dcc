package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChatConversationRepository is a mock implementation of ChatConversationRepository
type MockChatConversationRepository struct {
	mock.Mock
}

func (m *MockChatConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockChatConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockChatConversationRepository) IncrementMessageCount(ctx context.Context, id string, delta int) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0)
}

// MockChatMessageRepository is a mock implementation of ChatMessageRepository
type MockChatMessageRepository struct {
	mock.Mock
}

func (m *MockChatMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockChatMessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

// MockKnowledgeSearcher is a mock implementation of KnowledgeSearcher
type MockKnowledgeSearcher struct {
	mock.Mock
}

func (m *MockKnowledgeSearcher) Search(ctx context.Context, input SearchInput) ([]*SearchResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SearchResult), args.Error(1)
}

// MockPersonalityProvider is a mock implementation of PersonalityProvider
type MockPersonalityProvider struct {
	mock.Mock
}

func (m *MockPersonalityProvider) Get(ctx context.Context) (*domain.Personality, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Personality), args.Error(1)
}

// MockCompletionClient is a mock implementation of CompletionClient
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) Complete(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (string, error) {
	args := m.Called(ctx, systemPrompt, history, userMessage)
	return args.String(0), args.Error(1)
}

func (m *MockCompletionClient) CompleteStream(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (CompletionStream, error) {
	args := m.Called(ctx, systemPrompt, history, userMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(CompletionStream), args.Error(1)
}

// fakeCompletionStream yields a fixed chunk sequence then io.EOF
type fakeCompletionStream struct {
	chunks []string
	pos    int
	err    error
	closed bool
}

func (f *fakeCompletionStream) Recv() (string, error) {
	if f.pos < len(f.chunks) {
		chunk := f.chunks[f.pos]
		f.pos++
		return chunk, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", io.EOF
}

func (f *fakeCompletionStream) Close() error {
	f.closed = true
	return nil
}

// blockingStream holds Recv until released, so tests can order cancellation
// against stream consumption.
type blockingStream struct {
	release chan struct{}
	chunks  []string
	pos     int
}

func (b *blockingStream) Recv() (string, error) {
	<-b.release
	if b.pos < len(b.chunks) {
		chunk := b.chunks[b.pos]
		b.pos++
		return chunk, nil
	}
	return "", io.EOF
}

func (b *blockingStream) Close() error { return nil }

func testTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

type chatMocks struct {
	conversations *MockChatConversationRepository
	messages      *MockChatMessageRepository
	searcher      *MockKnowledgeSearcher
	personality   *MockPersonalityProvider
	completion    *MockCompletionClient
}

func newChatService(uuids ...string) (*ChatService, *chatMocks) {
	m := &chatMocks{
		conversations: new(MockChatConversationRepository),
		messages:      new(MockChatMessageRepository),
		searcher:      new(MockKnowledgeSearcher),
		personality:   new(MockPersonalityProvider),
		completion:    new(MockCompletionClient),
	}
	service := NewChatServiceWithUUIDGen(
		m.conversations, m.messages, m.searcher, m.personality, m.completion,
		NewMockUUIDGenerator(uuids...),
	)
	return service, m
}

func activeConversation(id, userID string) *domain.Conversation {
	return domain.NewConversation(id, userID, "Chat", testTime())
}

func defaultPersonality() *domain.Personality {
	return domain.NewPersonality("Corvid", "desc", "You are Corvid.", testTime())
}

func TestChatService_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a turn with user and assistant messages linked", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
			return msg.ID == "user-msg-1" &&
				msg.Role == domain.MessageRoleUser &&
				msg.Content == "hello" &&
				msg.Status == domain.MessageStatusCompleted
		})).Return(nil).Once()
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, SearchInput{
			Query:     "hello",
			Limit:     turnSearchLimit,
			Threshold: turnSearchThreshold,
			Mode:      SearchModeHybrid,
		}).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("Complete", mock.Anything, "You are Corvid.", mock.Anything, "hello").Return("hi there", nil)
		m.messages.On("Create", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
			return msg.ID == "assistant-msg-1" &&
				msg.Role == domain.MessageRoleAssistant &&
				msg.ParentID == "user-msg-1" &&
				msg.Content == "hi there" &&
				msg.Metadata[domain.MetaKnowledgeUsed] == false &&
				msg.Metadata[domain.MetaKnowledgeItemCount] == 0
		})).Return(nil).Once()
		m.conversations.On("IncrementMessageCount", mock.Anything, "conv-1", 2).Return(nil)

		out, err := service.SendMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hello"})

		require.NoError(t, err)
		assert.Equal(t, "hi there", out.Content)
		assert.Equal(t, "conv-1", out.ConversationID)
		assert.Equal(t, "assistant-msg-1", out.MessageID)
		m.messages.AssertNumberOfCalls(t, "Create", 2)
		m.conversations.AssertExpectations(t)
	})

	t.Run("includes knowledge context in the system prompt", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{
			{Item: knowledgeItemWithEmbedding("k1", "Widget Guide", nil), Score: 0.9},
		}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("Complete", mock.Anything, mock.MatchedBy(func(prompt string) bool {
			return strings.HasPrefix(prompt, "You are Corvid.") &&
				strings.Contains(prompt, knowledgeContextHeader) &&
				strings.Contains(prompt, "Widget Guide")
		}), mock.Anything, "hello").Return("answer", nil)
		m.conversations.On("IncrementMessageCount", mock.Anything, "conv-1", 2).Return(nil)

		_, err := service.SendMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hello"})

		require.NoError(t, err)
		m.completion.AssertExpectations(t)
	})

	t.Run("rejects both discriminators before any persistence", func(t *testing.T) {
		service, m := newChatService()

		_, err := service.SendMessage(ctx, SendInput{ConversationID: "conv-1", UserID: "u1", Message: "hello"})

		assert.ErrorIs(t, err, domain.ErrConversationTarget)
		m.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects neither discriminator", func(t *testing.T) {
		service, _ := newChatService()

		_, err := service.SendMessage(ctx, SendInput{Message: "hello"})

		assert.ErrorIs(t, err, domain.ErrConversationTarget)
	})

	t.Run("missing conversation fails before persistence", func(t *testing.T) {
		service, m := newChatService()

		m.conversations.On("GetByID", mock.Anything, "missing-id").Return(nil, domain.ErrConversationNotFound)

		_, err := service.SendMessage(ctx, SendInput{ConversationID: "missing-id", Message: "hi"})

		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
		m.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("soft-deleted conversation reads as not found", func(t *testing.T) {
		service, m := newChatService()

		deleted := activeConversation("conv-1", "u1")
		deletedAt := testTime()
		deleted.DeletedAt = &deletedAt
		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(deleted, nil)

		_, err := service.SendMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hi"})

		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("userID-only auto-creates a conversation with default title", func(t *testing.T) {
		service, m := newChatService("new-conv-1", "user-msg-1", "assistant-msg-1")

		m.conversations.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
			return c.ID == "new-conv-1" && c.UserID == "u1" && c.Title == domain.DefaultConversationTitle
		})).Return(nil).Once()
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "new-conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("hi", nil)
		m.conversations.On("IncrementMessageCount", mock.Anything, "new-conv-1", 2).Return(nil)

		out, err := service.SendMessage(ctx, SendInput{UserID: "u1", Message: "hi"})

		require.NoError(t, err)
		assert.Equal(t, "new-conv-1", out.ConversationID)
		m.conversations.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("completion failure leaves no assistant message", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("model down"))

		_, err := service.SendMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hi"})

		require.Error(t, err)
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domain.ErrCodeCollaborator, domainErr.Code)
		// Only the user message was persisted.
		m.messages.AssertNumberOfCalls(t, "Create", 1)
		m.conversations.AssertNotCalled(t, "IncrementMessageCount", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("history excludes the just-inserted user message", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		prior := domain.NewMessage("old-1", "conv-1", "", domain.MessageRoleUser, "earlier", testTime())
		inserted := domain.NewMessage("user-msg-1", "conv-1", "", domain.MessageRoleUser, "hi", testTime())

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{prior, inserted}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("Complete", mock.Anything, mock.Anything, mock.MatchedBy(func(history []*domain.Message) bool {
			return len(history) == 1 && history[0].ID == "old-1"
		}), "hi").Return("reply", nil)
		m.conversations.On("IncrementMessageCount", mock.Anything, "conv-1", 2).Return(nil)

		_, err := service.SendMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hi"})

		require.NoError(t, err)
		m.completion.AssertExpectations(t)
	})
}

func collectStreamEvents(events <-chan StreamEvent) []StreamEvent {
	var collected []StreamEvent
	for ev := range events {
		collected = append(collected, ev)
	}
	return collected
}

func TestChatService_StreamMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("emits start deltas and exactly one final", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		stream := &fakeCompletionStream{chunks: []string{"Hel", "lo"}}

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything, "hi").Return(stream, nil)
		m.conversations.On("IncrementMessageCount", mock.Anything, "conv-1", 2).Return(nil)

		events := collectStreamEvents(service.StreamMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hi"}))

		require.Len(t, events, 4)
		assert.Equal(t, StreamEventStart, events[0].Type)
		assert.Equal(t, "conv-1", events[0].ConversationID)
		assert.Equal(t, StreamEventDelta, events[1].Type)
		assert.Equal(t, "Hel", events[1].Content)
		assert.Equal(t, StreamEventDelta, events[2].Type)
		assert.Equal(t, StreamEventFinal, events[3].Type)
		assert.Equal(t, "Hello", events[3].Content)
		assert.Equal(t, "assistant-msg-1", events[3].MessageID)
		assert.True(t, stream.closed)
	})

	t.Run("assistant message records the streamed flag", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
			return msg.Role == domain.MessageRoleUser
		})).Return(nil).Once()
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything, "hi").
			Return(&fakeCompletionStream{chunks: []string{"ok"}}, nil)
		m.messages.On("Create", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
			return msg.Role == domain.MessageRoleAssistant && msg.Metadata[domain.MetaStreamed] == true
		})).Return(nil).Once()
		m.conversations.On("IncrementMessageCount", mock.Anything, "conv-1", 2).Return(nil)

		events := collectStreamEvents(service.StreamMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hi"}))

		require.NotEmpty(t, events)
		assert.Equal(t, StreamEventFinal, events[len(events)-1].Type)
		m.messages.AssertExpectations(t)
	})

	t.Run("validation failure surfaces as a single error event", func(t *testing.T) {
		service, m := newChatService()

		events := collectStreamEvents(service.StreamMessage(ctx, SendInput{Message: "hi"}))

		require.Len(t, events, 1)
		assert.Equal(t, StreamEventError, events[0].Type)
		assert.NotEmpty(t, events[0].Err)
		m.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("mid-stream failure yields error not final", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		stream := &fakeCompletionStream{chunks: []string{"par"}, err: errors.New("connection reset")}

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything, "hi").Return(stream, nil)

		events := collectStreamEvents(service.StreamMessage(ctx, SendInput{ConversationID: "conv-1", Message: "hi"}))

		var finals, errs int
		for _, ev := range events {
			switch ev.Type {
			case StreamEventFinal:
				finals++
			case StreamEventError:
				errs++
			}
		}
		assert.Equal(t, 0, finals)
		assert.Equal(t, 1, errs)
		// Partial assistant output is discarded, only the user message persists.
		m.messages.AssertNumberOfCalls(t, "Create", 1)
		m.conversations.AssertNotCalled(t, "IncrementMessageCount", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("consumer cancellation aborts without persisting a partial message", func(t *testing.T) {
		service, m := newChatService("user-msg-1", "assistant-msg-1")

		cancelCtx, cancel := context.WithCancel(ctx)
		stream := &blockingStream{release: make(chan struct{}), chunks: []string{"a", "b", "c"}}

		m.conversations.On("GetByID", mock.Anything, "conv-1").Return(activeConversation("conv-1", "u1"), nil)
		m.messages.On("Create", mock.Anything, mock.Anything).Return(nil)
		m.messages.On("ListRecent", mock.Anything, "conv-1", historyLimit).Return([]*domain.Message{}, nil)
		m.searcher.On("Search", mock.Anything, mock.Anything).Return([]*SearchResult{}, nil)
		m.personality.On("Get", mock.Anything).Return(defaultPersonality(), nil)
		m.completion.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything, "hi").Return(stream, nil)

		events := service.StreamMessage(cancelCtx, SendInput{ConversationID: "conv-1", Message: "hi"})

		first := <-events
		assert.Equal(t, StreamEventStart, first.Type)

		// Cancel before the stream yields anything; the turn must abort.
		cancel()
		close(stream.release)

		remaining := collectStreamEvents(events)
		for _, ev := range remaining {
			assert.NotEqual(t, StreamEventFinal, ev.Type)
		}
		// Only the user message was persisted.
		m.messages.AssertNumberOfCalls(t, "Create", 1)
		m.conversations.AssertNotCalled(t, "IncrementMessageCount", mock.Anything, mock.Anything, mock.Anything)
	})
}

package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/telemetry"
)

const (
	// historyLimit caps how many prior messages feed the model per turn.
	historyLimit = 10

	turnSearchLimit     = 3
	turnSearchThreshold = 0.7

	// contextSnippetMax truncates each knowledge bullet in the context block.
	contextSnippetMax = 300

	knowledgeContextHeader = "Relevant knowledge:"
)

// CompletionStream yields incremental completion text. Recv returns io.EOF
// when the model is done; Close releases the underlying connection.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionClient defines the text-generation collaborator interface
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (string, error)
	CompleteStream(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (CompletionStream, error)
}

// ChatConversationRepository defines the conversation operations a turn needs
type ChatConversationRepository interface {
	Create(ctx context.Context, c *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	IncrementMessageCount(ctx context.Context, id string, delta int) error
}

// ChatMessageRepository defines the message operations a turn needs
type ChatMessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
}

// KnowledgeSearcher runs the per-turn hybrid retrieval
type KnowledgeSearcher interface {
	Search(ctx context.Context, input SearchInput) ([]*SearchResult, error)
}

// PersonalityProvider supplies the current system prompt
type PersonalityProvider interface {
	Get(ctx context.Context) (*domain.Personality, error)
}

// StreamEventType discriminates streaming turn events.
type StreamEventType string

const (
	StreamEventStart StreamEventType = "start"
	StreamEventDelta StreamEventType = "delta"
	StreamEventFinal StreamEventType = "final"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one event in a streaming turn. The sequence is start,
// zero or more deltas, then exactly one of final or error.
type StreamEvent struct {
	Type           StreamEventType
	Content        string
	ConversationID string
	MessageID      string
	Err            string
}

// SendInput represents input for a conversation turn. Exactly one of
// ConversationID and UserID must be set.
type SendInput struct {
	ConversationID string
	UserID         string
	Message        string
	Context        map[string]any
}

// SendOutput represents the result of a buffered conversation turn
type SendOutput struct {
	Content        string
	ConversationID string
	MessageID      string
}

// ChatService orchestrates conversation turns: persistence, retrieval,
// personality, and the model call.
type ChatService struct {
	conversationRepo ChatConversationRepository
	messageRepo      ChatMessageRepository
	searcher         KnowledgeSearcher
	personality      PersonalityProvider
	completion       CompletionClient
	uuidGen          UUIDGenerator
}

// NewChatService creates a new ChatService instance
func NewChatService(
	conversationRepo ChatConversationRepository,
	messageRepo ChatMessageRepository,
	searcher KnowledgeSearcher,
	personality PersonalityProvider,
	completion CompletionClient,
) *ChatService {
	return &ChatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		searcher:         searcher,
		personality:      personality,
		completion:       completion,
		uuidGen:          &DefaultUUIDGenerator{},
	}
}

// NewChatServiceWithUUIDGen creates a new ChatService with a custom UUID generator (for testing)
func NewChatServiceWithUUIDGen(
	conversationRepo ChatConversationRepository,
	messageRepo ChatMessageRepository,
	searcher KnowledgeSearcher,
	personality PersonalityProvider,
	completion CompletionClient,
	uuidGen UUIDGenerator,
) *ChatService {
	s := NewChatService(conversationRepo, messageRepo, searcher, personality, completion)
	s.uuidGen = uuidGen
	return s
}

// SendMessage runs one buffered conversation turn and returns the full
// assistant reply once every step, including persistence, has completed.
func (s *ChatService) SendMessage(ctx context.Context, input SendInput) (*SendOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.SendMessage", telemetry.SpanAttributes{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Operation:      "send",
	})
	defer span.End()

	conversation, err := s.resolveConversation(ctx, input)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	turn, err := s.prepareTurn(ctx, conversation, input)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	content, err := s.completion.Complete(ctx, turn.systemPrompt, turn.history, input.Message)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaborator, "completion failed", err)
	}

	assistantID, err := s.finishTurn(ctx, conversation, turn, input, content, false)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	return &SendOutput{
		Content:        content,
		ConversationID: conversation.ID,
		MessageID:      assistantID,
	}, nil
}

// StreamMessage runs one streaming conversation turn. All failures, including
// input validation, surface as a terminal error event on the returned channel;
// cancelling ctx stops the stream without persisting a partial assistant
// message.
func (s *ChatService) StreamMessage(ctx context.Context, input SendInput) <-chan StreamEvent {
	events := make(chan StreamEvent)

	go func() {
		defer close(events)

		ctx, span := telemetry.StartSpan(ctx, "ChatService.StreamMessage", telemetry.SpanAttributes{
			ConversationID: input.ConversationID,
			UserID:         input.UserID,
			Operation:      "stream",
		})
		defer span.End()

		fail := func(err error) {
			span.SetError(err)
			s.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: err.Error()})
		}

		conversation, err := s.resolveConversation(ctx, input)
		if err != nil {
			fail(err)
			return
		}

		// Emitted before persistence so callers see auto-created
		// conversation IDs immediately.
		if !s.emit(ctx, events, StreamEvent{Type: StreamEventStart, ConversationID: conversation.ID}) {
			return
		}

		turn, err := s.prepareTurn(ctx, conversation, input)
		if err != nil {
			fail(err)
			return
		}

		stream, err := s.completion.CompleteStream(ctx, turn.systemPrompt, turn.history, input.Message)
		if err != nil {
			fail(domain.NewDomainErrorWithCause(domain.ErrCodeCollaborator, "completion failed", err))
			return
		}
		defer stream.Close()

		var buf strings.Builder
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				fail(domain.NewDomainErrorWithCause(domain.ErrCodeCollaborator, "completion stream failed", err))
				return
			}
			buf.WriteString(chunk)
			if !s.emit(ctx, events, StreamEvent{Type: StreamEventDelta, Content: chunk}) {
				return
			}
		}

		content := buf.String()
		assistantID, err := s.finishTurn(ctx, conversation, turn, input, content, true)
		if err != nil {
			fail(err)
			return
		}

		s.emit(ctx, events, StreamEvent{
			Type:           StreamEventFinal,
			Content:        content,
			ConversationID: conversation.ID,
			MessageID:      assistantID,
		})
	}()

	return events
}

// emit sends an event unless the consumer has gone away. Returns false when
// ctx is done, which aborts the turn before the assistant message persists.
func (s *ChatService) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// turnState carries the intermediate artifacts between the shared protocol
// steps of both turn variants.
type turnState struct {
	userMessage    *domain.Message
	history        []*domain.Message
	systemPrompt   string
	knowledgeCount int
}

// resolveConversation validates the target discriminator and loads or
// auto-creates the conversation. No persistence happens on validation failure.
func (s *ChatService) resolveConversation(ctx context.Context, input SendInput) (*domain.Conversation, error) {
	if strings.TrimSpace(input.Message) == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if (input.ConversationID == "") == (input.UserID == "") {
		return nil, domain.ErrConversationTarget
	}

	if input.ConversationID != "" {
		conversation, err := s.conversationRepo.GetByID(ctx, input.ConversationID)
		if err != nil {
			return nil, err
		}
		if conversation.IsDeleted() {
			return nil, domain.ErrConversationNotFound
		}
		return conversation, nil
	}

	conversation := domain.NewConversation(s.uuidGen.NewString(), input.UserID, "", time.Now().UTC())
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// prepareTurn persists the user message and assembles history, knowledge
// context, and the system prompt.
func (s *ChatService) prepareTurn(ctx context.Context, conversation *domain.Conversation, input SendInput) (*turnState, error) {
	now := time.Now().UTC()

	userMessage := domain.NewMessage(s.uuidGen.NewString(), conversation.ID, "", domain.MessageRoleUser, input.Message, now)
	if input.Context != nil {
		userMessage.Metadata[domain.MetaContext] = input.Context
	}
	if err := domain.ValidateMessage(userMessage); err != nil {
		return nil, err
	}
	if err := s.messageRepo.Create(ctx, userMessage); err != nil {
		return nil, err
	}

	recent, err := s.messageRepo.ListRecent(ctx, conversation.ID, historyLimit)
	if err != nil {
		return nil, err
	}
	history := make([]*domain.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == userMessage.ID {
			continue
		}
		history = append(history, m)
	}

	results, err := s.searcher.Search(ctx, SearchInput{
		Query:     input.Message,
		Limit:     turnSearchLimit,
		Threshold: turnSearchThreshold,
		Mode:      SearchModeHybrid,
	})
	if err != nil {
		return nil, err
	}

	personality, err := s.personality.Get(ctx)
	if err != nil {
		return nil, err
	}

	systemPrompt := personality.SystemPrompt
	if block := formatKnowledgeContext(results); block != "" {
		systemPrompt = systemPrompt + "\n\n" + block
	}

	return &turnState{
		userMessage:    userMessage,
		history:        history,
		systemPrompt:   systemPrompt,
		knowledgeCount: len(results),
	}, nil
}

// finishTurn persists the assistant message and bumps the conversation's
// message count for the completed turn.
func (s *ChatService) finishTurn(
	ctx context.Context,
	conversation *domain.Conversation,
	turn *turnState,
	input SendInput,
	content string,
	streamed bool,
) (string, error) {
	now := time.Now().UTC()

	assistant := domain.NewMessage(s.uuidGen.NewString(), conversation.ID, turn.userMessage.ID, domain.MessageRoleAssistant, content, now)
	assistant.Metadata[domain.MetaKnowledgeUsed] = turn.knowledgeCount > 0
	assistant.Metadata[domain.MetaKnowledgeItemCount] = turn.knowledgeCount
	if streamed {
		assistant.Metadata[domain.MetaStreamed] = true
	}
	if input.Context != nil {
		assistant.Metadata[domain.MetaUserContext] = input.Context
	}

	if err := domain.ValidateMessage(assistant); err != nil {
		return "", err
	}
	if err := s.messageRepo.Create(ctx, assistant); err != nil {
		return "", err
	}

	// One user message plus one assistant message per turn.
	if err := s.conversationRepo.IncrementMessageCount(ctx, conversation.ID, 2); err != nil {
		return "", err
	}

	return assistant.ID, nil
}

// formatKnowledgeContext renders search results as a header plus one bullet
// per item, each snippet capped. Empty results produce no block at all.
func formatKnowledgeContext(results []*SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(knowledgeContextHeader)
	for _, r := range results {
		snippet := r.Item.Content
		if snippet == "" {
			snippet = r.Item.Description
		}
		if len(snippet) > contextSnippetMax {
			snippet = snippet[:contextSnippetMax]
		}
		b.WriteString(fmt.Sprintf("\n- %s: %s", r.Item.Title, snippet))
	}
	return b.String()
}

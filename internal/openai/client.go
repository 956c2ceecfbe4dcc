package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/service"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = domain.EmbeddingDimensions
	// DefaultChatModel is the OpenAI model used for chat completions
	DefaultChatModel = "gpt-4o-mini"
	// DefaultTemperature is the sampling temperature for chat completions
	DefaultTemperature = 0.7
	// DefaultMaxTokens caps the length of generated completions
	DefaultMaxTokens = 1024

	// maxEmbeddingInputChars caps embedding input; longer text is truncated
	// before submission.
	maxEmbeddingInputChars = 8000
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions, expected 1536")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// ChatAPI defines the interface for chat completion generation
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
	CreateChatCompletionStream(ctx context.Context, messages []openai.ChatCompletionMessage) (service.CompletionStream, error)
}

// Client wraps the OpenAI API client for embeddings and chat completions
type Client struct {
	embeddings EmbeddingAPI
	chat       ChatAPI
	dimensions int
}

type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	temperature    float32
	maxTokens      int
}

func NewOpenAIAdapter(apiKey string, cfg Config) *OpenAIAdapter {
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &OpenAIAdapter{
		client:         openai.NewClient(apiKey),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CreateChatCompletion calls the OpenAI API for a buffered chat completion
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Messages:    messages,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// CreateChatCompletionStream calls the OpenAI API for a streaming chat completion
func (a *OpenAIAdapter) CreateChatCompletionStream(ctx context.Context, messages []openai.ChatCompletionMessage) (service.CompletionStream, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Messages:    messages,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	return &chatStream{inner: stream}, nil
}

// chatStream adapts openai.ChatCompletionStream to incremental text chunks.
type chatStream struct {
	inner *openai.ChatCompletionStream
}

// Recv returns the next text increment, or io.EOF when the stream ends.
func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	return s.inner.Close()
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
	Temperature         float32
	MaxTokens           int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	adapter := NewOpenAIAdapter(cfg.APIKey, cfg)
	return &Client{
		embeddings: adapter,
		chat:       adapter,
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text. Input longer
// than the embedding cap is truncated before submission.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	if len(text) > maxEmbeddingInputChars {
		text = text[:maxEmbeddingInputChars]
	}

	embedding, err := c.embeddings.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	if len(embedding) != expected {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

// Complete generates a buffered chat completion from the system prompt,
// prior turns, and the new user message.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (string, error) {
	if userMessage == "" {
		return "", ErrEmptyText
	}
	return c.chat.CreateChatCompletion(ctx, buildChatMessages(systemPrompt, history, userMessage))
}

// CompleteStream generates a streaming chat completion. The returned stream
// yields text increments and ends with io.EOF.
func (c *Client) CompleteStream(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (service.CompletionStream, error) {
	if userMessage == "" {
		return nil, ErrEmptyText
	}
	return c.chat.CreateChatCompletionStream(ctx, buildChatMessages(systemPrompt, history, userMessage))
}

func buildChatMessages(systemPrompt string, history []*domain.Message, userMessage string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)

	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	return messages
}

func chatRole(role domain.MessageRole) string {
	switch role {
	case domain.MessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.MessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

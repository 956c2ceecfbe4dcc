package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvid-labs/corvid/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingKnowledgeRepository defines the repository interface for embedding operations
type EmbeddingKnowledgeRepository interface {
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// EmbeddingService generates and stores embeddings for knowledge items
type EmbeddingService struct {
	client EmbeddingClient
	repo   EmbeddingKnowledgeRepository
}

// NewEmbeddingService creates a new EmbeddingService instance
func NewEmbeddingService(client EmbeddingClient, repo EmbeddingKnowledgeRepository) *EmbeddingService {
	return &EmbeddingService{
		client: client,
		repo:   repo,
	}
}

// GenerateEmbedding generates and stores an embedding for the given knowledge
// item. Called by the background worker. Items without content are never
// embedded.
func (s *EmbeddingService) GenerateEmbedding(ctx context.Context, knowledgeID string) error {
	item, err := s.repo.GetByID(ctx, knowledgeID)
	if err != nil {
		return err
	}

	if !item.Embeddable() {
		return fmt.Errorf("knowledge item %s has no content to embed", knowledgeID)
	}

	text := buildEmbeddingText(item)

	embedding, err := s.client.GenerateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	if err := s.repo.UpdateEmbedding(ctx, knowledgeID, embedding); err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}

	return nil
}

func buildEmbeddingText(k *domain.KnowledgeItem) string {
	var parts []string

	if k.Title != "" {
		parts = append(parts, k.Title)
	}
	if k.Description != "" {
		parts = append(parts, k.Description)
	}
	if k.Content != "" {
		parts = append(parts, k.Content)
	}

	return strings.Join(parts, "\n\n")
}

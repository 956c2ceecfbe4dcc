package domain

import (
	"fmt"
	"time"
)

// EmbeddingDimensions is the fixed dimensionality of stored embeddings.
const EmbeddingDimensions = 1536

// KnowledgeKind represents the kind of content a knowledge item holds
type KnowledgeKind string

const (
	KnowledgeKindFolder       KnowledgeKind = "folder"
	KnowledgeKindDocument     KnowledgeKind = "document"
	KnowledgeKindFile         KnowledgeKind = "file"
	KnowledgeKindURL          KnowledgeKind = "url"
	KnowledgeKindURLDirectory KnowledgeKind = "url_directory"
)

// KnowledgeItem represents one unit of ingested corpus content. Items may be
// chunked under a parent item; a parent that carries no content is never
// embedded.
type KnowledgeItem struct {
	ID          string
	ParentID    string // Optional: chunk grouping under a parent item
	Title       string
	Description string
	Kind        KnowledgeKind
	Content     string
	FileRef     string // Optional file key or URL for file/url kinds
	Metadata    map[string]any
	Embedding   []float32
	ProcessedAt *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewKnowledgeItem creates a new KnowledgeItem instance
func NewKnowledgeItem(
	id, parentID, title, description string,
	kind KnowledgeKind,
	content, fileRef, createdBy string,
	createdAt, updatedAt time.Time,
) *KnowledgeItem {
	return &KnowledgeItem{
		ID:          id,
		ParentID:    parentID,
		Title:       title,
		Description: description,
		Kind:        kind,
		Content:     content,
		FileRef:     fileRef,
		Metadata:    map[string]any{},
		CreatedBy:   createdBy,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// Embeddable reports whether the item is eligible for embedding generation.
// Only items that carry content are embedded.
func (k *KnowledgeItem) Embeddable() bool {
	return k.Content != ""
}

// ValidateKnowledgeItem validates a KnowledgeItem instance
func ValidateKnowledgeItem(k *KnowledgeItem) error {
	if k == nil {
		return fmt.Errorf("knowledge item cannot be nil")
	}

	if k.ID == "" {
		return fmt.Errorf("knowledge item ID is required")
	}

	if k.Title == "" {
		return fmt.Errorf("knowledge item Title is required")
	}

	if k.CreatedBy == "" {
		return fmt.Errorf("knowledge item CreatedBy is required")
	}

	if !isValidKnowledgeKind(k.Kind) {
		return fmt.Errorf("knowledge item Kind is invalid: %s", k.Kind)
	}

	if len(k.Embedding) > 0 && k.Content == "" {
		return fmt.Errorf("knowledge item without content cannot carry an embedding")
	}

	return nil
}

// isValidKnowledgeKind checks if a KnowledgeKind is valid
func isValidKnowledgeKind(k KnowledgeKind) bool {
	switch k {
	case KnowledgeKindFolder, KnowledgeKindDocument, KnowledgeKindFile,
		KnowledgeKindURL, KnowledgeKindURLDirectory:
		return true
	}
	return false
}

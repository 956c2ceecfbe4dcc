package service

import (
	"context"
	"fmt"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/pagination"
	"github.com/corvid-labs/corvid/internal/telemetry"
	"github.com/google/uuid"
)

// KnowledgeRepositoryInterface defines the repository interface for knowledge persistence
type KnowledgeRepositoryInterface interface {
	Create(ctx context.Context, k *domain.KnowledgeItem) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*KnowledgePageResult, error)
	ListChildren(ctx context.Context, parentID string) ([]*domain.KnowledgeItem, error)
	Update(ctx context.Context, k *domain.KnowledgeItem) error
	Delete(ctx context.Context, id string) error
}

type KnowledgePageResult struct {
	Items      []*domain.KnowledgeItem
	NextCursor string
	HasMore    bool
}

// EmbeddingJobRepositoryInterface defines the repository interface for embedding job persistence
type EmbeddingJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.EmbeddingJob) error
}

// FileStore provides presigned access to file attachments
type FileStore interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// MetaDownloadURL is the metadata key carrying a resolved presigned download
// URL on file-kind items. Populated at read time, never persisted.
const MetaDownloadURL = "downloadUrl"

// KnowledgeService handles business logic for knowledge items
type KnowledgeService struct {
	knowledgeRepo    KnowledgeRepositoryInterface
	embeddingJobRepo EmbeddingJobRepositoryInterface
	txRunner         TxRunner
	files            FileStore // nil when no attachment store is configured
	uuidGen          UUIDGenerator
	chunkCfg         ChunkConfig
}

// NewKnowledgeService creates a new KnowledgeService instance
func NewKnowledgeService(
	knowledgeRepo KnowledgeRepositoryInterface,
	embeddingJobRepo EmbeddingJobRepositoryInterface,
	txRunner TxRunner,
	files FileStore,
) *KnowledgeService {
	return &KnowledgeService{
		knowledgeRepo:    knowledgeRepo,
		embeddingJobRepo: embeddingJobRepo,
		txRunner:         txRunner,
		files:            files,
		uuidGen:          &DefaultUUIDGenerator{},
		chunkCfg:         DefaultChunkConfig(),
	}
}

// NewKnowledgeServiceWithUUIDGen creates a new KnowledgeService with a custom UUID generator (for testing)
func NewKnowledgeServiceWithUUIDGen(
	knowledgeRepo KnowledgeRepositoryInterface,
	embeddingJobRepo EmbeddingJobRepositoryInterface,
	txRunner TxRunner,
	files FileStore,
	uuidGen UUIDGenerator,
) *KnowledgeService {
	s := NewKnowledgeService(knowledgeRepo, embeddingJobRepo, txRunner, files)
	s.uuidGen = uuidGen
	return s
}

// CreateKnowledgeInput represents the input for creating a knowledge item
type CreateKnowledgeInput struct {
	ParentID    string
	Title       string
	Description string
	Kind        domain.KnowledgeKind
	Content     string
	FileRef     string
	ContentType string // For file kinds: MIME type of the upcoming upload
	CreatedBy   string
}

// UpdateKnowledgeInput represents the input for updating a knowledge item
type UpdateKnowledgeInput struct {
	KnowledgeID string
	Title       string
	Description string
	Content     string
}

type ListKnowledgeInput struct {
	Cursor string
	Limit  int
}

type ListKnowledgeOutput struct {
	Items   []*domain.KnowledgeItem
	Cursor  string
	HasMore bool
}

// CreateKnowledgeOutput carries the created item plus a presigned upload URL
// for file-kind items when the attachment store is configured.
type CreateKnowledgeOutput struct {
	Item      *domain.KnowledgeItem
	Children  []*domain.KnowledgeItem
	UploadURL string
}

// Create creates a knowledge item, splits oversized document content into
// child chunk items, and queues embedding jobs for everything with content.
// Item, chunks, and jobs commit in one transaction.
func (s *KnowledgeService) Create(ctx context.Context, input CreateKnowledgeInput) (*CreateKnowledgeOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Create", telemetry.SpanAttributes{
		UserID:    input.CreatedBy,
		Operation: "create",
	})
	defer span.End()

	now := time.Now().UTC()

	item := domain.NewKnowledgeItem(
		s.uuidGen.NewString(),
		input.ParentID,
		input.Title,
		input.Description,
		input.Kind,
		input.Content,
		input.FileRef,
		input.CreatedBy,
		now, now,
	)

	if err := domain.ValidateKnowledgeItem(item); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid knowledge item", err)
	}

	var children []*domain.KnowledgeItem
	if item.Kind == domain.KnowledgeKindDocument && len([]rune(item.Content)) > s.chunkCfg.MaxChars {
		for i, chunk := range splitContent(item.Content, s.chunkCfg) {
			child := domain.NewKnowledgeItem(
				s.uuidGen.NewString(),
				item.ID,
				fmt.Sprintf("%s (part %d)", item.Title, i+1),
				"",
				domain.KnowledgeKindDocument,
				chunk,
				"",
				input.CreatedBy,
				now, now,
			)
			children = append(children, child)
		}
	}

	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Knowledge().Create(ctx, item); err != nil {
			return err
		}
		if item.Embeddable() {
			if err := repos.EmbeddingJobs().Create(ctx, domain.NewEmbeddingJob(s.uuidGen.NewString(), item.ID, now)); err != nil {
				return err
			}
		}
		for _, child := range children {
			if err := repos.Knowledge().Create(ctx, child); err != nil {
				return err
			}
			if err := repos.EmbeddingJobs().Create(ctx, domain.NewEmbeddingJob(s.uuidGen.NewString(), child.ID, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	out := &CreateKnowledgeOutput{Item: item, Children: children}

	if item.Kind == domain.KnowledgeKindFile && item.FileRef != "" && s.files != nil {
		uploadURL, err := s.files.GenerateUploadURL(ctx, item.FileRef, input.ContentType)
		if err != nil {
			// Upload URL resolution is best effort; the item itself is committed.
			span.SetError(err)
		} else {
			out.UploadURL = uploadURL
		}
	}

	return out, nil
}

// GetByID retrieves a knowledge item. File-kind items get a presigned
// download URL attached under the downloadUrl metadata key.
func (s *KnowledgeService) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.GetByID", telemetry.SpanAttributes{
		KnowledgeID: id,
		Operation:   "get",
	})
	defer span.End()

	item, err := s.knowledgeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if item.Kind == domain.KnowledgeKindFile && item.FileRef != "" && s.files != nil {
		url, err := s.files.GenerateDownloadURL(ctx, item.FileRef)
		if err == nil {
			if item.Metadata == nil {
				item.Metadata = map[string]any{}
			}
			item.Metadata[MetaDownloadURL] = url
		}
	}

	return item, nil
}

// List retrieves knowledge items with cursor pagination
func (s *KnowledgeService) List(ctx context.Context, input ListKnowledgeInput) (*ListKnowledgeOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.List", telemetry.SpanAttributes{
		Operation: "list",
	})
	defer span.End()

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.knowledgeRepo.ListWithCursor(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListKnowledgeOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}

// Update modifies a knowledge item's editable fields and queues a fresh
// embedding job when content is present afterward.
func (s *KnowledgeService) Update(ctx context.Context, input UpdateKnowledgeInput) (*domain.KnowledgeItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Update", telemetry.SpanAttributes{
		KnowledgeID: input.KnowledgeID,
		Operation:   "update",
	})
	defer span.End()

	item, err := s.knowledgeRepo.GetByID(ctx, input.KnowledgeID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item.Title = input.Title
	item.Description = input.Description
	item.Content = input.Content
	item.UpdatedAt = now
	if !item.Embeddable() {
		// Content removal invalidates any prior embedding.
		item.Embedding = nil
		item.ProcessedAt = nil
	}

	if err := domain.ValidateKnowledgeItem(item); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid knowledge item", err)
	}

	if err := s.knowledgeRepo.Update(ctx, item); err != nil {
		return nil, err
	}

	if item.Embeddable() {
		job := domain.NewEmbeddingJob(s.uuidGen.NewString(), item.ID, now)
		if err := s.embeddingJobRepo.Create(ctx, job); err != nil {
			return nil, err
		}
	}

	return item, nil
}

// Delete removes a knowledge item, its chunk children, and its stored file
// attachment when one exists.
func (s *KnowledgeService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Delete", telemetry.SpanAttributes{
		KnowledgeID: id,
		Operation:   "delete",
	})
	defer span.End()

	item, err := s.knowledgeRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	children, err := s.knowledgeRepo.ListChildren(ctx, id)
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := s.knowledgeRepo.Delete(ctx, child.ID); err != nil {
			return err
		}
	}
	if err := s.knowledgeRepo.Delete(ctx, id); err != nil {
		return err
	}

	if item.Kind == domain.KnowledgeKindFile && item.FileRef != "" && s.files != nil {
		if err := s.files.DeleteObject(ctx, item.FileRef); err != nil {
			// The record is gone; a leaked object is recoverable.
			span.SetError(err)
		}
	}

	return nil
}

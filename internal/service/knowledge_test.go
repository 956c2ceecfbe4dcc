package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockKnowledgeRepository is a mock implementation of KnowledgeRepositoryInterface
type MockKnowledgeRepository struct {
	mock.Mock
}

func (m *MockKnowledgeRepository) Create(ctx context.Context, k *domain.KnowledgeItem) error {
	args := m.Called(ctx, k)
	return args.Error(0)
}

func (m *MockKnowledgeRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeItem), args.Error(1)
}

func (m *MockKnowledgeRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*KnowledgePageResult, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*KnowledgePageResult), args.Error(1)
}

func (m *MockKnowledgeRepository) ListChildren(ctx context.Context, parentID string) ([]*domain.KnowledgeItem, error) {
	args := m.Called(ctx, parentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeItem), args.Error(1)
}

func (m *MockKnowledgeRepository) Update(ctx context.Context, k *domain.KnowledgeItem) error {
	args := m.Called(ctx, k)
	return args.Error(0)
}

func (m *MockKnowledgeRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockEmbeddingJobRepository is a mock implementation of EmbeddingJobRepositoryInterface
type MockEmbeddingJobRepository struct {
	mock.Mock
}

func (m *MockEmbeddingJobRepository) Create(ctx context.Context, job *domain.EmbeddingJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockFileStore is a mock implementation of FileStore
type MockFileStore struct {
	mock.Mock
}

func (m *MockFileStore) GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockFileStore) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockFileStore) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockUUIDGenerator is a mock implementation of UUIDGenerator
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	return "default-uuid"
}

// stubTxRunner runs the transaction body directly against the given repositories
type stubTxRunner struct {
	knowledge KnowledgeRepositoryInterface
	jobs      EmbeddingJobRepositoryInterface
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	return fn(s)
}

func (s *stubTxRunner) Knowledge() KnowledgeRepositoryInterface      { return s.knowledge }
func (s *stubTxRunner) EmbeddingJobs() EmbeddingJobRepositoryInterface { return s.jobs }

func newKnowledgeService(files FileStore, uuids ...string) (*KnowledgeService, *MockKnowledgeRepository, *MockEmbeddingJobRepository) {
	repo := new(MockKnowledgeRepository)
	jobs := new(MockEmbeddingJobRepository)
	tx := &stubTxRunner{knowledge: repo, jobs: jobs}
	service := NewKnowledgeServiceWithUUIDGen(repo, jobs, tx, files, NewMockUUIDGenerator(uuids...))
	return service, repo, jobs
}

func TestKnowledgeService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates item and queues embedding job for content", func(t *testing.T) {
		service, repo, jobs := newKnowledgeService(nil, "item-1", "job-1")

		repo.On("Create", mock.Anything, mock.MatchedBy(func(k *domain.KnowledgeItem) bool {
			return k.ID == "item-1" &&
				k.Title == "Notes" &&
				k.Kind == domain.KnowledgeKindDocument &&
				k.Content == "short content"
		})).Return(nil).Once()
		jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.EmbeddingJob) bool {
			return j.ID == "job-1" && j.KnowledgeID == "item-1" && j.Status == domain.EmbeddingJobStatusPending
		})).Return(nil).Once()

		out, err := service.Create(ctx, CreateKnowledgeInput{
			Title:     "Notes",
			Kind:      domain.KnowledgeKindDocument,
			Content:   "short content",
			CreatedBy: "u1",
		})

		require.NoError(t, err)
		assert.Equal(t, "item-1", out.Item.ID)
		assert.Empty(t, out.Children)
		repo.AssertExpectations(t)
		jobs.AssertExpectations(t)
	})

	t.Run("folder without content queues no embedding job", func(t *testing.T) {
		service, repo, jobs := newKnowledgeService(nil, "folder-1")

		repo.On("Create", mock.Anything, mock.Anything).Return(nil)

		out, err := service.Create(ctx, CreateKnowledgeInput{
			Title:     "Docs",
			Kind:      domain.KnowledgeKindFolder,
			CreatedBy: "u1",
		})

		require.NoError(t, err)
		assert.Equal(t, "folder-1", out.Item.ID)
		jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("oversized document content is split into chunk children", func(t *testing.T) {
		service, repo, jobs := newKnowledgeService(nil)

		repo.On("Create", mock.Anything, mock.Anything).Return(nil)
		jobs.On("Create", mock.Anything, mock.Anything).Return(nil)

		longContent := strings.Repeat("lorem ipsum dolor sit amet ", 200) // ~5400 chars

		out, err := service.Create(ctx, CreateKnowledgeInput{
			Title:     "Long Doc",
			Kind:      domain.KnowledgeKindDocument,
			Content:   longContent,
			CreatedBy: "u1",
		})

		require.NoError(t, err)
		require.NotEmpty(t, out.Children)
		for i, child := range out.Children {
			assert.Equal(t, out.Item.ID, child.ParentID)
			assert.Contains(t, child.Title, "Long Doc (part")
			assert.True(t, child.Embeddable(), "chunk %d must carry content", i)
		}
		// One job for the parent plus one per chunk.
		jobs.AssertNumberOfCalls(t, "Create", 1+len(out.Children))
	})

	t.Run("file kind returns a presigned upload URL", func(t *testing.T) {
		files := new(MockFileStore)
		service, repo, _ := newKnowledgeService(files, "file-1")

		repo.On("Create", mock.Anything, mock.Anything).Return(nil)
		files.On("GenerateUploadURL", mock.Anything, "uploads/report.pdf", "application/pdf").
			Return("https://storage.example/presigned-put", nil)

		out, err := service.Create(ctx, CreateKnowledgeInput{
			Title:       "Report",
			Kind:        domain.KnowledgeKindFile,
			FileRef:     "uploads/report.pdf",
			ContentType: "application/pdf",
			CreatedBy:   "u1",
		})

		require.NoError(t, err)
		assert.Equal(t, "https://storage.example/presigned-put", out.UploadURL)
	})

	t.Run("invalid input fails before persistence", func(t *testing.T) {
		service, repo, _ := newKnowledgeService(nil)

		_, err := service.Create(ctx, CreateKnowledgeInput{
			Kind:      domain.KnowledgeKindDocument,
			CreatedBy: "u1",
		})

		require.Error(t, err)
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestKnowledgeService_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches a download URL for file items", func(t *testing.T) {
		files := new(MockFileStore)
		service, repo, _ := newKnowledgeService(files)

		item := knowledgeItemWithEmbedding("file-1", "Report", nil)
		item.Kind = domain.KnowledgeKindFile
		item.FileRef = "uploads/report.pdf"
		item.Metadata = map[string]any{}

		repo.On("GetByID", mock.Anything, "file-1").Return(item, nil)
		files.On("GenerateDownloadURL", mock.Anything, "uploads/report.pdf").
			Return("https://storage.example/presigned-get", nil)

		got, err := service.GetByID(ctx, "file-1")

		require.NoError(t, err)
		assert.Equal(t, "https://storage.example/presigned-get", got.Metadata[MetaDownloadURL])
	})

	t.Run("propagates not found", func(t *testing.T) {
		service, repo, _ := newKnowledgeService(nil)

		repo.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrKnowledgeNotFound)

		_, err := service.GetByID(ctx, "missing")

		assert.ErrorIs(t, err, domain.ErrKnowledgeNotFound)
	})
}

func TestKnowledgeService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("updates fields and queues a fresh embedding job", func(t *testing.T) {
		service, repo, jobs := newKnowledgeService(nil, "job-2")

		existing := knowledgeItemWithEmbedding("item-1", "Old", []float32{1, 2})
		existing.Metadata = map[string]any{}

		repo.On("GetByID", mock.Anything, "item-1").Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(k *domain.KnowledgeItem) bool {
			return k.Title == "New" && k.Content == "new content"
		})).Return(nil)
		jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.EmbeddingJob) bool {
			return j.KnowledgeID == "item-1"
		})).Return(nil)

		got, err := service.Update(ctx, UpdateKnowledgeInput{
			KnowledgeID: "item-1",
			Title:       "New",
			Description: "desc",
			Content:     "new content",
		})

		require.NoError(t, err)
		assert.Equal(t, "New", got.Title)
		jobs.AssertExpectations(t)
	})

	t.Run("removing content clears the stored embedding and queues nothing", func(t *testing.T) {
		service, repo, jobs := newKnowledgeService(nil)

		existing := knowledgeItemWithEmbedding("item-1", "Old", []float32{1, 2})
		existing.Metadata = map[string]any{}

		repo.On("GetByID", mock.Anything, "item-1").Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(k *domain.KnowledgeItem) bool {
			return k.Content == "" && k.Embedding == nil
		})).Return(nil)

		_, err := service.Update(ctx, UpdateKnowledgeInput{
			KnowledgeID: "item-1",
			Title:       "Old",
		})

		require.NoError(t, err)
		jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestKnowledgeService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the item and its chunk children", func(t *testing.T) {
		service, repo, _ := newKnowledgeService(nil)

		parent := knowledgeItemWithEmbedding("parent-1", "Doc", nil)
		child := knowledgeItemWithEmbedding("child-1", "Doc (part 1)", nil)
		child.ParentID = "parent-1"

		repo.On("GetByID", mock.Anything, "parent-1").Return(parent, nil)
		repo.On("ListChildren", mock.Anything, "parent-1").Return([]*domain.KnowledgeItem{child}, nil)
		repo.On("Delete", mock.Anything, "child-1").Return(nil).Once()
		repo.On("Delete", mock.Anything, "parent-1").Return(nil).Once()

		err := service.Delete(ctx, "parent-1")

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("deletes the stored object for file items", func(t *testing.T) {
		files := new(MockFileStore)
		service, repo, _ := newKnowledgeService(files)

		item := knowledgeItemWithEmbedding("file-1", "Report", nil)
		item.Kind = domain.KnowledgeKindFile
		item.FileRef = "uploads/report.pdf"

		repo.On("GetByID", mock.Anything, "file-1").Return(item, nil)
		repo.On("ListChildren", mock.Anything, "file-1").Return([]*domain.KnowledgeItem{}, nil)
		repo.On("Delete", mock.Anything, "file-1").Return(nil)
		files.On("DeleteObject", mock.Anything, "uploads/report.pdf").Return(nil)

		err := service.Delete(ctx, "file-1")

		require.NoError(t, err)
		files.AssertExpectations(t)
	})
}

func TestKnowledgeService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("passes cursor and applies the default limit", func(t *testing.T) {
		service, repo, _ := newKnowledgeService(nil)

		repo.On("ListWithCursor", mock.Anything, (*pagination.Cursor)(nil), 20).Return(&KnowledgePageResult{
			Items:   []*domain.KnowledgeItem{knowledgeItemWithEmbedding("a", "A", nil)},
			HasMore: false,
		}, nil)

		out, err := service.List(ctx, ListKnowledgeInput{})

		require.NoError(t, err)
		assert.Len(t, out.Items, 1)
		assert.False(t, out.HasMore)
	})

	t.Run("propagates repository errors", func(t *testing.T) {
		service, repo, _ := newKnowledgeService(nil)

		repo.On("ListWithCursor", mock.Anything, mock.Anything, 5).Return(nil, errors.New("db down"))

		_, err := service.List(ctx, ListKnowledgeInput{Limit: 5})

		assert.Error(t, err)
	})
}

func TestSplitContent(t *testing.T) {
	cfg := DefaultChunkConfig()

	t.Run("short text is a single chunk", func(t *testing.T) {
		chunks := splitContent("hello world", cfg)
		require.Len(t, chunks, 1)
		assert.Equal(t, "hello world", chunks[0])
	})

	t.Run("empty text yields no chunks", func(t *testing.T) {
		assert.Nil(t, splitContent("   ", cfg))
	})

	t.Run("long text is split within the size bounds", func(t *testing.T) {
		long := strings.Repeat("alpha beta gamma delta ", 300)
		chunks := splitContent(long, cfg)
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.LessOrEqual(t, len([]rune(chunk)), cfg.MaxChars, "chunk %d too large", i)
			assert.NotEmpty(t, chunk)
		}
	})

	t.Run("chunk count is capped", func(t *testing.T) {
		long := strings.Repeat("word ", 100000)
		chunks := splitContent(long, ChunkConfig{MaxChars: 100, MinChars: 40, Overlap: 10, MaxChunks: 5})
		assert.LessOrEqual(t, len(chunks), 5)
	})
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPersonalityRepository is a mock implementation of PersonalityRepositoryInterface
type MockPersonalityRepository struct {
	mock.Mock
}

func (m *MockPersonalityRepository) Get(ctx context.Context) (*domain.Personality, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Personality), args.Error(1)
}

func (m *MockPersonalityRepository) Replace(ctx context.Context, p *domain.Personality) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// MockRecentSampler is a mock implementation of RecentKnowledgeSampler
type MockRecentSampler struct {
	mock.Mock
}

func (m *MockRecentSampler) TopRecent(ctx context.Context, limit int) ([]*SearchResult, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SearchResult), args.Error(1)
}

func newPersonalityService() (*PersonalityService, *MockPersonalityRepository, *MockRecentSampler, *MockCompletionClient) {
	repo := new(MockPersonalityRepository)
	sampler := new(MockRecentSampler)
	completion := new(MockCompletionClient)
	service := NewPersonalityService(repo, sampler, completion, PersonalityConfig{
		AssistantName: "Corvid",
		AssistantTone: "helpful and professional",
		CacheTTL:      time.Hour,
	})
	return service, repo, sampler, completion
}

func TestPersonalityService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns fresh cached personality without touching the repository", func(t *testing.T) {
		service, repo, _, _ := newPersonalityService()

		cached := domain.NewPersonality("Corvid", "cached", "prompt", testTime())
		service.PrimeCache(cached, time.Now().Add(time.Minute))

		p, err := service.Get(ctx)

		require.NoError(t, err)
		assert.Same(t, cached, p)
		repo.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("loads persisted personality on cache miss", func(t *testing.T) {
		service, repo, _, _ := newPersonalityService()

		persisted := domain.NewPersonality("Corvid", "persisted", "prompt", testTime())
		repo.On("Get", mock.Anything).Return(persisted, nil).Once()

		p, err := service.Get(ctx)
		require.NoError(t, err)
		assert.Same(t, persisted, p)

		// Second call is served from the repopulated cache.
		p2, err := service.Get(ctx)
		require.NoError(t, err)
		assert.Same(t, persisted, p2)
		repo.AssertNumberOfCalls(t, "Get", 1)
	})

	t.Run("expired cache slot forces a reload", func(t *testing.T) {
		service, repo, _, _ := newPersonalityService()

		stale := domain.NewPersonality("Corvid", "stale", "prompt", testTime())
		service.PrimeCache(stale, time.Now().Add(-time.Minute))

		persisted := domain.NewPersonality("Corvid", "fresh", "prompt", testTime())
		repo.On("Get", mock.Anything).Return(persisted, nil)

		p, err := service.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fresh", p.Description)
	})

	t.Run("builds a personality when none is persisted", func(t *testing.T) {
		service, repo, sampler, _ := newPersonalityService()

		repo.On("Get", mock.Anything).Return(nil, domain.ErrPersonalityNotFound)
		sampler.On("TopRecent", mock.Anything, personalitySampleSize).Return([]*SearchResult{}, nil)
		repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

		p, err := service.Get(ctx)

		require.NoError(t, err)
		assert.Equal(t, GenericProfileDescription, p.Description)
		repo.AssertCalled(t, "Replace", mock.Anything, mock.Anything)
	})
}

func TestPersonalityService_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("empty corpus without override produces the generic fallback", func(t *testing.T) {
		service, repo, sampler, completion := newPersonalityService()

		repo.On("Get", mock.Anything).Return(nil, domain.ErrPersonalityNotFound)
		sampler.On("TopRecent", mock.Anything, personalitySampleSize).Return([]*SearchResult{}, nil)
		repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

		p, err := service.Build(ctx, BuildInput{})

		require.NoError(t, err)
		assert.Equal(t, GenericProfileDescription, p.Description)
		assert.Contains(t, p.SystemPrompt, "Corvid")
		assert.Contains(t, p.SystemPrompt, "helpful and professional")
		assert.Equal(t, domainTagFallback, p.Metadata["domain"])
		completion.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("explicit instructions bypass corpus sampling", func(t *testing.T) {
		service, repo, sampler, _ := newPersonalityService()

		repo.On("Replace", mock.Anything, mock.MatchedBy(func(p *domain.Personality) bool {
			return p.SystemPrompt == "Always answer in haiku."
		})).Return(nil)

		p, err := service.Build(ctx, BuildInput{Instructions: "Always answer in haiku.", Refresh: true})

		require.NoError(t, err)
		assert.Equal(t, "Always answer in haiku.", p.SystemPrompt)
		assert.Equal(t, "custom configured", p.Metadata["source"])
		sampler.AssertNotCalled(t, "TopRecent", mock.Anything, mock.Anything)
	})

	t.Run("non-empty corpus drives an LLM summary into the prompt", func(t *testing.T) {
		service, repo, sampler, completion := newPersonalityService()

		sampler.On("TopRecent", mock.Anything, personalitySampleSize).Return([]*SearchResult{
			{Item: knowledgeItemWithEmbedding("k1", "Kubernetes Operations Runbook", nil), Score: 1},
			{Item: knowledgeItemWithEmbedding("k2", "Cluster Upgrade Notes", nil), Score: 1},
		}, nil)
		completion.On("Complete", mock.Anything, summarySystemPrompt, mock.Anything, mock.MatchedBy(func(corpus string) bool {
			return strings.Contains(corpus, "Kubernetes Operations Runbook")
		})).Return("Covers Kubernetes cluster operations and upgrades.", nil)
		repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

		p, err := service.Build(ctx, BuildInput{Refresh: true})

		require.NoError(t, err)
		assert.Contains(t, p.SystemPrompt, "Covers Kubernetes cluster operations and upgrades.")
		assert.Equal(t, "kubernetes", p.Metadata["domain"])
		assert.Equal(t, "knowledge derived", p.Metadata["source"])
	})

	t.Run("last built timestamp strictly increases across rebuilds", func(t *testing.T) {
		service, repo, _, _ := newPersonalityService()

		repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

		first, err := service.Build(ctx, BuildInput{Instructions: "Answer briefly.", Refresh: true})
		require.NoError(t, err)

		time.Sleep(time.Millisecond)

		second, err := service.Build(ctx, BuildInput{Instructions: "Answer briefly.", Refresh: true})
		require.NoError(t, err)

		assert.True(t, second.LastBuiltAt.After(first.LastBuiltAt),
			"expected %v after %v", second.LastBuiltAt, first.LastBuiltAt)
		repo.AssertNumberOfCalls(t, "Replace", 2)
	})

	t.Run("summarization failure propagates", func(t *testing.T) {
		service, repo, sampler, completion := newPersonalityService()

		sampler.On("TopRecent", mock.Anything, personalitySampleSize).Return([]*SearchResult{
			{Item: knowledgeItemWithEmbedding("k1", "Some Title", nil), Score: 1},
		}, nil)
		completion.On("Complete", mock.Anything, summarySystemPrompt, mock.Anything, mock.Anything).
			Return("", errors.New("model down"))

		_, err := service.Build(ctx, BuildInput{Refresh: true})

		require.Error(t, err)
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domain.ErrCodeCollaborator, domainErr.Code)
		repo.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything)
	})

	t.Run("without refresh an existing personality is returned untouched", func(t *testing.T) {
		service, repo, sampler, _ := newPersonalityService()

		existing := domain.NewPersonality("Corvid", "existing", "prompt", testTime())
		repo.On("Get", mock.Anything).Return(existing, nil)

		p, err := service.Build(ctx, BuildInput{})

		require.NoError(t, err)
		assert.Same(t, existing, p)
		sampler.AssertNotCalled(t, "TopRecent", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything)
	})
}

func TestPersonalityService_Set(t *testing.T) {
	ctx := context.Background()

	t.Run("persists an override prompt", func(t *testing.T) {
		service, repo, _, _ := newPersonalityService()

		repo.On("Replace", mock.Anything, mock.MatchedBy(func(p *domain.Personality) bool {
			return p.SystemPrompt == "Be terse." && p.Name == "Corvid"
		})).Return(nil)

		p, err := service.Set(ctx, "Be terse.", "", "terse mode")

		require.NoError(t, err)
		assert.Equal(t, "manual override", p.Metadata["source"])

		// The override is now served from cache.
		got, err := service.Get(ctx)
		require.NoError(t, err)
		assert.Same(t, p, got)
	})

	t.Run("rejects an empty prompt", func(t *testing.T) {
		service, repo, _, _ := newPersonalityService()

		_, err := service.Set(ctx, "", "", "")

		assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
		repo.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything)
	})
}

func TestDeriveDomainTag(t *testing.T) {
	tests := []struct {
		name     string
		titles   []string
		expected string
	}{
		{
			name:     "first word longer than four chars wins",
			titles:   []string{"The Kubernetes Guide"},
			expected: "kubernetes",
		},
		{
			name:     "short words are skipped",
			titles:   []string{"A to Z of Go", "tools list"},
			expected: "tools",
		},
		{
			name:     "no qualifying word falls back to general",
			titles:   []string{"a b cd", "efg hi"},
			expected: "general",
		},
		{
			name:     "empty titles fall back to general",
			titles:   nil,
			expected: "general",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, deriveDomainTag(tt.titles))
		})
	}
}

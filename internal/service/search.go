package service

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/corvid-labs/corvid/internal/domain"
	"golang.org/x/sync/errgroup"
)

// SearchMode selects how knowledge search ranks candidates.
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeHybrid   SearchMode = "hybrid"
)

const (
	defaultSearchLimit = 10

	// keywordNominalScore marks keyword hits, which carry no true relevance
	// score; rank stability comes from source order.
	keywordNominalScore = 0.5

	topRecentScore = 1.0
)

func normalizeSearchMode(mode SearchMode) SearchMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(SearchModeSemantic):
		return SearchModeSemantic
	case string(SearchModeKeyword):
		return SearchModeKeyword
	default:
		return SearchModeHybrid
	}
}

// SearchResult is an ephemeral projection of a knowledge item with a
// relevance score in [0, 1]. Produced fresh per query, never persisted.
type SearchResult struct {
	Item  *domain.KnowledgeItem
	Score float64
}

// SearchInput represents input for a knowledge search
type SearchInput struct {
	Query     string
	Limit     int
	Threshold float64
	Mode      SearchMode
}

// SearchRepositoryInterface defines the repository interface for search operations
type SearchRepositoryInterface interface {
	ListWithEmbeddings(ctx context.Context) ([]*domain.KnowledgeItem, error)
	SearchKeyword(ctx context.Context, query string, limit int) ([]*domain.KnowledgeItem, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.KnowledgeItem, error)
}

// SearchService runs semantic, keyword, and hybrid knowledge search
type SearchService struct {
	repo      SearchRepositoryInterface
	embedding EmbeddingClient
}

// NewSearchService creates a new SearchService instance
func NewSearchService(repo SearchRepositoryInterface, embedding EmbeddingClient) *SearchService {
	return &SearchService{
		repo:      repo,
		embedding: embedding,
	}
}

// Search runs a knowledge search in the requested mode (default hybrid).
// Sub-search failures degrade to empty result sets rather than failing the
// query; callers must tolerate partial availability.
func (s *SearchService) Search(ctx context.Context, input SearchInput) ([]*SearchResult, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return []*SearchResult{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	switch normalizeSearchMode(input.Mode) {
	case SearchModeSemantic:
		return s.semanticSearch(ctx, query, limit, input.Threshold), nil
	case SearchModeKeyword:
		return s.keywordSearch(ctx, query, limit), nil
	default:
		return s.hybridSearch(ctx, query, limit, input.Threshold), nil
	}
}

// TopRecent returns the most recently created items as maximal-score results.
// Used to seed personality synthesis, not user-facing search.
func (s *SearchService) TopRecent(ctx context.Context, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	items, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, &SearchResult{Item: item, Score: topRecentScore})
	}
	return results, nil
}

func (s *SearchService) semanticSearch(ctx context.Context, query string, limit int, threshold float64) []*SearchResult {
	queryEmbedding, err := s.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		log.Printf("semantic search degraded, embedding failed: %v", err)
		return []*SearchResult{}
	}

	items, err := s.repo.ListWithEmbeddings(ctx)
	if err != nil {
		log.Printf("semantic search degraded, candidate load failed: %v", err)
		return []*SearchResult{}
	}

	results := make([]*SearchResult, 0, len(items))
	for _, item := range items {
		score := CosineSimilarity(queryEmbedding, item.Embedding)
		if score >= threshold {
			results = append(results, &SearchResult{Item: item, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *SearchService) keywordSearch(ctx context.Context, query string, limit int) []*SearchResult {
	items, err := s.repo.SearchKeyword(ctx, query, limit)
	if err != nil {
		log.Printf("keyword search degraded, query failed: %v", err)
		return []*SearchResult{}
	}

	results := make([]*SearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, &SearchResult{Item: item, Score: keywordNominalScore})
	}
	return results
}

// hybridSearch runs both sub-searches concurrently, then merges semantic
// results first so an item qualifying both ways keeps its semantic score.
func (s *SearchService) hybridSearch(ctx context.Context, query string, limit int, threshold float64) []*SearchResult {
	half := (limit + 1) / 2

	var semantic, keyword []*SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		semantic = s.semanticSearch(gctx, query, half, threshold)
		return nil
	})
	g.Go(func() error {
		keyword = s.keywordSearch(gctx, query, half)
		return nil
	})
	// Sub-searches degrade internally and never return errors.
	_ = g.Wait()

	seen := make(map[string]struct{}, len(semantic)+len(keyword))
	merged := make([]*SearchResult, 0, len(semantic)+len(keyword))
	for _, r := range append(semantic, keyword...) {
		if _, ok := seen[r.Item.ID]; ok {
			continue
		}
		seen[r.Item.ID] = struct{}{}
		merged = append(merged, r)
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

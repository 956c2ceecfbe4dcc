package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
)

const (
	// personalitySampleSize caps how many recent items seed a corpus-derived
	// personality.
	personalitySampleSize = 10

	// personalityItemContentMax truncates each sampled item's content before
	// summarization.
	personalityItemContentMax = 500

	domainTagFallback = "general"

	// GenericProfileDescription is the profile description used when the
	// corpus is empty and no override instructions were supplied.
	GenericProfileDescription = "General purpose AI assistant"

	summarySystemPrompt = "You summarize knowledge bases. Reply with a 2-3 sentence summary of the topics covered, nothing else."
)

// PersonalityRepositoryInterface defines the repository interface for the
// personality singleton. Replace swaps the stored record wholesale.
type PersonalityRepositoryInterface interface {
	Get(ctx context.Context) (*domain.Personality, error)
	Replace(ctx context.Context, p *domain.Personality) error
}

// RecentKnowledgeSampler samples the corpus for personality synthesis
type RecentKnowledgeSampler interface {
	TopRecent(ctx context.Context, limit int) ([]*SearchResult, error)
}

// PersonalityConfig controls personality synthesis and caching.
type PersonalityConfig struct {
	AssistantName string
	AssistantTone string
	CacheTTL      time.Duration
}

// DefaultPersonalityConfig returns the default personality configuration.
func DefaultPersonalityConfig() PersonalityConfig {
	return PersonalityConfig{
		AssistantName: "Corvid",
		AssistantTone: "helpful and professional",
		CacheTTL:      time.Hour,
	}
}

// PersonalityService owns the assistant's voice: a single-slot, TTL-bounded
// cache over the persisted personality singleton, plus the builder that
// synthesizes a system prompt from the knowledge corpus.
type PersonalityService struct {
	repo       PersonalityRepositoryInterface
	sampler    RecentKnowledgeSampler
	completion CompletionClient
	cfg        PersonalityConfig

	mu          sync.Mutex
	cached      *domain.Personality
	cachedUntil time.Time
}

// NewPersonalityService creates a new PersonalityService instance
func NewPersonalityService(
	repo PersonalityRepositoryInterface,
	sampler RecentKnowledgeSampler,
	completion CompletionClient,
	cfg PersonalityConfig,
) *PersonalityService {
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultPersonalityConfig().AssistantName
	}
	if cfg.AssistantTone == "" {
		cfg.AssistantTone = DefaultPersonalityConfig().AssistantTone
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultPersonalityConfig().CacheTTL
	}
	return &PersonalityService{
		repo:       repo,
		sampler:    sampler,
		completion: completion,
		cfg:        cfg,
	}
}

// BuildInput represents input for building a personality
type BuildInput struct {
	// Instructions bypasses the corpus: the prompt is constructed directly
	// from these override instructions.
	Instructions string

	// Refresh forces a rebuild even when a personality already exists.
	Refresh bool
}

// Get returns the active personality, loading the persisted record on a cache
// miss and building a fresh one if none exists yet.
func (s *PersonalityService) Get(ctx context.Context) (*domain.Personality, error) {
	if p := s.cachedFresh(); p != nil {
		return p, nil
	}

	p, err := s.repo.Get(ctx)
	if err == nil {
		s.setCache(p)
		return p, nil
	}
	if !errors.Is(err, domain.ErrPersonalityNotFound) {
		return nil, err
	}

	return s.Build(ctx, BuildInput{Refresh: true})
}

// Build synthesizes a new personality and replaces the persisted singleton.
// Without Refresh, an existing personality is returned untouched.
func (s *PersonalityService) Build(ctx context.Context, input BuildInput) (*domain.Personality, error) {
	if !input.Refresh {
		if existing, err := s.repo.Get(ctx); err == nil {
			s.setCache(existing)
			return existing, nil
		} else if !errors.Is(err, domain.ErrPersonalityNotFound) {
			return nil, err
		}
	}

	personality, err := s.synthesize(ctx, input.Instructions)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Replace(ctx, personality); err != nil {
		return nil, err
	}

	s.setCache(personality)
	return personality, nil
}

// Set persists an explicit override prompt, replacing the singleton without
// any corpus sampling.
func (s *PersonalityService) Set(ctx context.Context, systemPrompt, name, description string) (*domain.Personality, error) {
	if systemPrompt == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if name == "" {
		name = s.cfg.AssistantName
	}

	personality := domain.NewPersonality(name, description, systemPrompt, time.Now().UTC())
	personality.Metadata["source"] = "manual override"

	if err := s.repo.Replace(ctx, personality); err != nil {
		return nil, err
	}

	s.setCache(personality)
	return personality, nil
}

// InvalidateCache empties the cache slot. Exposed so tests can force a
// deterministic reload or rebuild.
func (s *PersonalityService) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.cachedUntil = time.Time{}
}

// PrimeCache populates the cache slot directly. Exposed for tests.
func (s *PersonalityService) PrimeCache(p *domain.Personality, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = p
	s.cachedUntil = until
}

func (s *PersonalityService) cachedFresh() *domain.Personality {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && time.Now().Before(s.cachedUntil) {
		return s.cached
	}
	return nil
}

func (s *PersonalityService) setCache(p *domain.Personality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = p
	s.cachedUntil = time.Now().Add(s.cfg.CacheTTL)
}

func (s *PersonalityService) synthesize(ctx context.Context, instructions string) (*domain.Personality, error) {
	now := time.Now().UTC()

	if strings.TrimSpace(instructions) != "" {
		p := domain.NewPersonality(s.cfg.AssistantName, "Custom configured personality", instructions, now)
		p.Metadata["source"] = "custom configured"
		p.Metadata["tone"] = s.cfg.AssistantTone
		return p, nil
	}

	samples, err := s.sampler.TopRecent(ctx, personalitySampleSize)
	if err != nil {
		return nil, err
	}

	if len(samples) == 0 {
		p := domain.NewPersonality(s.cfg.AssistantName, GenericProfileDescription, s.genericPrompt(), now)
		p.Metadata["source"] = "generic fallback"
		p.Metadata["tone"] = s.cfg.AssistantTone
		p.Metadata["domain"] = domainTagFallback
		return p, nil
	}

	summary, err := s.summarizeCorpus(ctx, samples)
	if err != nil {
		// A personality is only useful when grounded; the failure propagates
		// so callers can retry through the generic fallback path instead.
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaborator, "corpus summarization failed", err)
	}

	titles := make([]string, 0, len(samples))
	for _, r := range samples {
		titles = append(titles, r.Item.Title)
	}
	tag := deriveDomainTag(titles)

	p := domain.NewPersonality(
		s.cfg.AssistantName,
		fmt.Sprintf("Assistant grounded in a knowledge base about %s", tag),
		s.knowledgePrompt(summary),
		now,
	)
	p.Metadata["source"] = "knowledge derived"
	p.Metadata["tone"] = s.cfg.AssistantTone
	p.Metadata["domain"] = tag
	return p, nil
}

func (s *PersonalityService) summarizeCorpus(ctx context.Context, samples []*SearchResult) (string, error) {
	var b strings.Builder
	for _, r := range samples {
		b.WriteString(r.Item.Title)
		content := r.Item.Content
		if content == "" {
			content = r.Item.Description
		}
		if len(content) > personalityItemContentMax {
			content = content[:personalityItemContentMax]
		}
		if content != "" {
			b.WriteString(": ")
			b.WriteString(content)
		}
		b.WriteString("\n")
	}

	return s.completion.Complete(ctx, summarySystemPrompt, nil, b.String())
}

func (s *PersonalityService) genericPrompt() string {
	return fmt.Sprintf(
		"You are %s, a %s AI assistant. Answer questions clearly and concisely, and say so when you do not know something.",
		s.cfg.AssistantName, s.cfg.AssistantTone,
	)
}

func (s *PersonalityService) knowledgePrompt(summary string) string {
	return fmt.Sprintf(
		"You are %s, a %s AI assistant grounded in a private knowledge base.\n\n"+
			"The knowledge base covers: %s\n\n"+
			"Answer from the knowledge base whenever possible. When a question falls outside it, say so explicitly rather than guessing.",
		s.cfg.AssistantName, s.cfg.AssistantTone, strings.TrimSpace(summary),
	)
}

// deriveDomainTag picks a coarse domain tag: the first word longer than four
// characters across the concatenated titles, else "general".
func deriveDomainTag(titles []string) string {
	for _, word := range strings.Fields(strings.Join(titles, " ")) {
		if len(word) > 4 {
			return strings.ToLower(word)
		}
	}
	return domainTagFallback
}

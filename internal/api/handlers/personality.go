package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/corvid-labs/corvid/internal/api"
	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/service"
)

type PersonalityService interface {
	Get(ctx context.Context) (*domain.Personality, error)
	Build(ctx context.Context, input service.BuildInput) (*domain.Personality, error)
	Set(ctx context.Context, systemPrompt, name, description string) (*domain.Personality, error)
}

type PersonalityHandler struct {
	svc PersonalityService
}

func NewPersonalityHandler(svc PersonalityService) *PersonalityHandler {
	return &PersonalityHandler{svc: svc}
}

type BuildPersonalityRequest struct {
	Instructions string `json:"instructions"`
}

type SetPersonalityRequest struct {
	SystemPrompt string `json:"system_prompt"`
	Name         string `json:"name"`
	Description  string `json:"description"`
}

type PersonalityResponse struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	SystemPrompt string         `json:"system_prompt"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastBuiltAt  string         `json:"last_built_at"`
}

func personalityToResponse(p *domain.Personality) *PersonalityResponse {
	return &PersonalityResponse{
		Name:         p.Name,
		Description:  p.Description,
		SystemPrompt: p.SystemPrompt,
		Metadata:     p.Metadata,
		LastBuiltAt:  p.LastBuiltAt.Format(time.RFC3339),
	}
}

func (h *PersonalityHandler) Get(w http.ResponseWriter, r *http.Request) {
	personality, err := h.svc.Get(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, personalityToResponse(personality))
}

// Build forces a rebuild from the current knowledge corpus, bypassing the
// cache and any stored profile.
func (h *PersonalityHandler) Build(w http.ResponseWriter, r *http.Request) {
	var req BuildPersonalityRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	personality, err := h.svc.Build(r.Context(), service.BuildInput{
		Instructions: req.Instructions,
		Refresh:      true,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, personalityToResponse(personality))
}

func (h *PersonalityHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req SetPersonalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SystemPrompt == "" {
		api.Error(w, http.StatusBadRequest, "system_prompt is required")
		return
	}

	personality, err := h.svc.Set(r.Context(), req.SystemPrompt, req.Name, req.Description)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, personalityToResponse(personality))
}

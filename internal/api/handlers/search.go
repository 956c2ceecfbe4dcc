package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/corvid-labs/corvid/internal/api"
	"github.com/corvid-labs/corvid/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) ([]*service.SearchResult, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query     string  `json:"query"`
	Mode      string  `json:"mode"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
}

type SearchResultResponse struct {
	Item  *KnowledgeResponse `json:"item"`
	Score float64            `json:"score"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.svc.Search(r.Context(), service.SearchInput{
		Query:     req.Query,
		Mode:      service.SearchMode(req.Mode),
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*SearchResultResponse, len(results))
	for i, result := range results {
		responses[i] = &SearchResultResponse{
			Item:  knowledgeToResponse(result.Item),
			Score: result.Score,
		}
	}

	api.Success(w, http.StatusOK, responses)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/corvid-labs/corvid/internal/api"
	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/service"
	"github.com/go-chi/chi/v5"
)

type KnowledgeService interface {
	Create(ctx context.Context, input service.CreateKnowledgeInput) (*service.CreateKnowledgeOutput, error)
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	List(ctx context.Context, input service.ListKnowledgeInput) (*service.ListKnowledgeOutput, error)
	Update(ctx context.Context, input service.UpdateKnowledgeInput) (*domain.KnowledgeItem, error)
	Delete(ctx context.Context, id string) error
}

type KnowledgeHandler struct {
	svc KnowledgeService
}

func NewKnowledgeHandler(svc KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type CreateKnowledgeRequest struct {
	ParentID    string `json:"parent_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Content     string `json:"content"`
	FileRef     string `json:"file_ref"`
	ContentType string `json:"content_type"`
	CreatedBy   string `json:"created_by"`
}

type UpdateKnowledgeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type KnowledgeResponse struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parent_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind"`
	Content     string         `json:"content,omitempty"`
	FileRef     string         `json:"file_ref,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ProcessedAt string         `json:"processed_at,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

func knowledgeToResponse(k *domain.KnowledgeItem) *KnowledgeResponse {
	resp := &KnowledgeResponse{
		ID:          k.ID,
		ParentID:    k.ParentID,
		Title:       k.Title,
		Description: k.Description,
		Kind:        string(k.Kind),
		Content:     k.Content,
		FileRef:     k.FileRef,
		Metadata:    k.Metadata,
		CreatedBy:   k.CreatedBy,
		CreatedAt:   k.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   k.UpdatedAt.Format(time.RFC3339),
	}
	if k.ProcessedAt != nil {
		resp.ProcessedAt = k.ProcessedAt.Format(time.RFC3339)
	}
	return resp
}

type CreateKnowledgeResponse struct {
	Item      *KnowledgeResponse   `json:"item"`
	Children  []*KnowledgeResponse `json:"children,omitempty"`
	UploadURL string               `json:"upload_url,omitempty"`
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Kind == "" {
		api.Error(w, http.StatusBadRequest, "kind is required")
		return
	}
	if req.CreatedBy == "" {
		api.Error(w, http.StatusBadRequest, "created_by is required")
		return
	}

	output, err := h.svc.Create(r.Context(), service.CreateKnowledgeInput{
		ParentID:    req.ParentID,
		Title:       req.Title,
		Description: req.Description,
		Kind:        domain.KnowledgeKind(req.Kind),
		Content:     req.Content,
		FileRef:     req.FileRef,
		ContentType: req.ContentType,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := CreateKnowledgeResponse{
		Item:      knowledgeToResponse(output.Item),
		UploadURL: output.UploadURL,
	}
	for _, child := range output.Children {
		resp.Children = append(resp.Children, knowledgeToResponse(child))
	}

	api.Success(w, http.StatusCreated, resp)
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	item, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeToResponse(item))
}

type KnowledgeListResponse struct {
	Items   []*KnowledgeResponse `json:"items"`
	Cursor  string               `json:"cursor,omitempty"`
	HasMore bool                 `json:"has_more"`
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.svc.List(r.Context(), service.ListKnowledgeInput{
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*KnowledgeResponse, len(output.Items))
	for i, item := range output.Items {
		responses[i] = knowledgeToResponse(item)
	}

	api.Success(w, http.StatusOK, KnowledgeListResponse{
		Items:   responses,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req UpdateKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	item, err := h.svc.Update(r.Context(), service.UpdateKnowledgeInput{
		KnowledgeID: id,
		Title:       req.Title,
		Description: req.Description,
		Content:     req.Content,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeToResponse(item))
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

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

type ConversationService interface {
	Create(ctx context.Context, input service.CreateConversationInput) (*domain.Conversation, error)
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListByUser(ctx context.Context, input service.ListConversationsInput) (*service.ListConversationsOutput, error)
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
	UpdateTitle(ctx context.Context, id, title string) (*domain.Conversation, error)
	Delete(ctx context.Context, id string) error
}

type ConversationHandler struct {
	svc ConversationService
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type CreateConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type ConversationResponse struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func conversationToResponse(c *domain.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		MessageCount: c.MessageCount,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
}

type MessageResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

func messageToResponse(m *domain.Message) *MessageResponse {
	return &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ParentID:       m.ParentID,
		Role:           string(m.Role),
		Content:        m.Content,
		Status:         string(m.Status),
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		api.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conversation, err := h.svc.Create(r.Context(), service.CreateConversationInput{
		UserID: req.UserID,
		Title:  req.Title,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, conversationToResponse(conversation))
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	conversation, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, conversationToResponse(conversation))
}

type ConversationListResponse struct {
	Items   []*ConversationResponse `json:"items"`
	Cursor  string                  `json:"cursor,omitempty"`
	HasMore bool                    `json:"has_more"`
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		api.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.svc.ListByUser(r.Context(), service.ListConversationsInput{
		UserID: userID,
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*ConversationResponse, len(output.Items))
	for i, c := range output.Items {
		responses[i] = conversationToResponse(c)
	}

	api.Success(w, http.StatusOK, ConversationListResponse{
		Items:   responses,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	messages, err := h.svc.ListMessages(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*MessageResponse, len(messages))
	for i, m := range messages {
		responses[i] = messageToResponse(m)
	}

	api.Success(w, http.StatusOK, responses)
}

func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversation, err := h.svc.UpdateTitle(r.Context(), id, req.Title)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, conversationToResponse(conversation))
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

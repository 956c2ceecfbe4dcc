package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/corvid-labs/corvid/internal/api"
	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/service"
	"github.com/go-chi/chi/v5"
)

type FeedbackService interface {
	Submit(ctx context.Context, input service.SubmitFeedbackInput) (*domain.Feedback, error)
	ListByMessage(ctx context.Context, messageID string) ([]*domain.Feedback, error)
}

type FeedbackHandler struct {
	svc FeedbackService
}

func NewFeedbackHandler(svc FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

type SubmitFeedbackRequest struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

type FeedbackResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at"`
}

func feedbackToResponse(f *domain.Feedback) *FeedbackResponse {
	return &FeedbackResponse{
		ID:        f.ID,
		MessageID: f.MessageID,
		UserID:    f.UserID,
		Rating:    f.Rating,
		Comment:   f.Comment,
		CreatedAt: f.CreatedAt.Format(time.RFC3339),
	}
}

func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.MessageID == "" {
		api.Error(w, http.StatusBadRequest, "message_id is required")
		return
	}
	if req.UserID == "" {
		api.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	feedback, err := h.svc.Submit(r.Context(), service.SubmitFeedbackInput{
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, feedbackToResponse(feedback))
}

func (h *FeedbackHandler) ListByMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	feedback, err := h.svc.ListByMessage(r.Context(), messageID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*FeedbackResponse, len(feedback))
	for i, f := range feedback {
		responses[i] = feedbackToResponse(f)
	}

	api.Success(w, http.StatusOK, responses)
}

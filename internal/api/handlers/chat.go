package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/corvid-labs/corvid/internal/api"
	"github.com/corvid-labs/corvid/internal/service"
)

type ChatService interface {
	SendMessage(ctx context.Context, input service.SendInput) (*service.SendOutput, error)
	StreamMessage(ctx context.Context, input service.SendInput) <-chan service.StreamEvent
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatRequest struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context"`
}

type ChatResponse struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	output, err := h.svc.SendMessage(r.Context(), service.SendInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Message:        req.Message,
		Context:        req.Context,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChatResponse{
		Content:        output.Content,
		ConversationID: output.ConversationID,
		MessageID:      output.MessageID,
	})
}

type streamEventPayload struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Stream runs a conversation turn over Server-Sent Events. Each event carries
// a JSON payload; the stream ends with exactly one final or error event.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.svc.StreamMessage(r.Context(), service.SendInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Message:        req.Message,
		Context:        req.Context,
	})

	for ev := range events {
		payload := streamEventPayload{
			Type:           string(ev.Type),
			Content:        ev.Content,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			Error:          ev.Err,
		}

		if !writeStreamEvent(w, flusher, payload.Type, payload) {
			return
		}
	}
}

// writeStreamEvent writes one SSE event. An encoding failure ends the stream
// with a terminal error event so the wire always carries exactly one of
// final or error; it returns false to stop the event loop.
func writeStreamEvent(w io.Writer, flusher http.Flusher, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: {\"type\":\"error\",\"error\":\"event encoding failed\"}\n\n")
		flusher.Flush()
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
	return true
}

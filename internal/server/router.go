package server

import (
	"net/http"

	"github.com/corvid-labs/corvid/internal/api"
	"github.com/corvid-labs/corvid/internal/api/handlers"
	"github.com/corvid-labs/corvid/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	ChatHandler         *handlers.ChatHandler
	ConversationHandler *handlers.ConversationHandler
	KnowledgeHandler    *handlers.KnowledgeHandler
	SearchHandler       *handlers.SearchHandler
	PersonalityHandler  *handlers.PersonalityHandler
	FeedbackHandler     *handlers.FeedbackHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/chat", cfg.ChatHandler.Send)
	r.Post("/chat/stream", cfg.ChatHandler.Stream)

	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", cfg.ConversationHandler.Create)
		r.Get("/", cfg.ConversationHandler.List)
		r.Get("/{id}", cfg.ConversationHandler.Get)
		r.Put("/{id}", cfg.ConversationHandler.Update)
		r.Delete("/{id}", cfg.ConversationHandler.Delete)
		r.Get("/{id}/messages", cfg.ConversationHandler.ListMessages)
	})

	r.Route("/knowledge", func(r chi.Router) {
		r.Post("/", cfg.KnowledgeHandler.Create)
		r.Get("/", cfg.KnowledgeHandler.List)
		r.Get("/{id}", cfg.KnowledgeHandler.Get)
		r.Put("/{id}", cfg.KnowledgeHandler.Update)
		r.Delete("/{id}", cfg.KnowledgeHandler.Delete)
	})

	r.Post("/search", cfg.SearchHandler.Search)

	r.Route("/personality", func(r chi.Router) {
		r.Get("/", cfg.PersonalityHandler.Get)
		r.Put("/", cfg.PersonalityHandler.Set)
		r.Post("/build", cfg.PersonalityHandler.Build)
	})

	r.Post("/feedback", cfg.FeedbackHandler.Submit)
	r.Get("/messages/{id}/feedback", cfg.FeedbackHandler.ListByMessage)

	return r
}

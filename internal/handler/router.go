package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/ragbot/backend/internal/handler/chat"
	"github.com/zhouzirui/ragbot/backend/internal/handler/meta"
	middlewarePkg "github.com/zhouzirui/ragbot/backend/internal/middleware"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "AI RAG Bot API"

// NewRouter wires HTTP routes to core services.
func NewRouter(turns chat.TurnRunner, defaultSessionKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	metaHandler := meta.New(ServiceName, []meta.Endpoint{
		{Name: "chat", Route: "POST /api/chat"},
		{Name: "history", Route: "GET /api/chat/history"},
		{Name: "websocket", Route: "GET /api/chat/ws"},
		{Name: "health", Route: "GET /health"},
	})
	metaHandler.RegisterRoutes(r)

	chatHandler := chat.New(turns, defaultSessionKey)
	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	return r
}

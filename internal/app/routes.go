package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vedran77/mavis/internal/transport/http/handlers"
	"github.com/vedran77/mavis/internal/transport/http/middleware"
	"github.com/vedran77/mavis/internal/transport/ws"
)

// Handler returns the HTTP surface: REST under /api/v1, the websocket
// endpoint, health and metrics.
func (a *App) Handler() http.Handler {
	logger := a.logger

	// Handlers
	authHandler := handlers.NewAuthHandler(a.Auth, logger)
	userHandler := handlers.NewUserHandler(a.Auth, logger)
	chatHandler := handlers.NewChatHandler(a.Chats, a.Realtime, logger)
	messageHandler := handlers.NewMessageHandler(a.Messages, logger)
	adminHandler := handlers.NewAdminHandler(a.Moderation, a.Bot, logger)
	healthHandler := handlers.NewHealthHandler(a.health)

	// Auth middleware
	auth := middleware.Auth(a.Auth)
	protect := func(h http.HandlerFunc) http.Handler { return auth(h) }

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /ws", ws.ServeWS(a.WS))

	// Protected - Auth & Users
	mux.Handle("POST /api/v1/auth/logout", protect(authHandler.Logout))
	mux.Handle("GET /api/v1/users/me", protect(userHandler.Me))
	mux.Handle("PATCH /api/v1/users/me", protect(userHandler.UpdateMe))
	mux.Handle("GET /api/v1/users", protect(userHandler.Search))
	mux.Handle("GET /api/v1/users/{id}", protect(userHandler.Get))

	// Protected - Chats & Messages
	mux.Handle("GET /api/v1/chats", protect(chatHandler.List))
	mux.Handle("POST /api/v1/chats/direct", protect(chatHandler.OpenDirect))
	mux.Handle("POST /api/v1/chats/{id}/join", protect(chatHandler.Join))
	mux.Handle("GET /api/v1/chats/{id}/messages", protect(messageHandler.List))
	mux.Handle("POST /api/v1/chats/{id}/messages", protect(messageHandler.Send))
	mux.Handle("POST /api/v1/chats/{id}/read", protect(messageHandler.MarkRead))
	mux.Handle("GET /api/v1/chats/{id}/unread", protect(messageHandler.Unread))

	// Protected - Admin
	mux.Handle("POST /api/v1/admin/users/ban", protect(adminHandler.SetBanned))
	mux.Handle("POST /api/v1/admin/users/admin", protect(adminHandler.SetAdmin))
	mux.Handle("POST /api/v1/admin/users/{id}/toggle-ban", protect(adminHandler.ToggleBan))
	mux.Handle("GET /api/v1/admin/tickets", protect(adminHandler.Tickets))
	mux.Handle("POST /api/v1/admin/tickets/{id}/reply", protect(adminHandler.Reply))
	mux.Handle("POST /api/v1/admin/tickets/{id}/close", protect(adminHandler.Close))

	return middleware.Logging(logger)(middleware.CORS(mux))
}

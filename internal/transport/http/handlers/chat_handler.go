package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/service"
	"github.com/vedran77/mavis/internal/transport/http/middleware"
	"github.com/vedran77/mavis/pkg/validator"
)

type ChatHandler struct {
	chatService     *service.ChatService
	realtimeService *service.RealtimeService
	logger          *zap.Logger
}

func NewChatHandler(chatService *service.ChatService, realtimeService *service.RealtimeService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, realtimeService: realtimeService, logger: logger}
}

// List returns the caller's chats with peer profile and unread count.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.realtimeService.Chats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "list chats", err)
		return
	}

	writeJSON(w, http.StatusOK, chats)
}

type openDirectRequest struct {
	UserID string `json:"user_id"`
}

func (h *ChatHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	var req openDirectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeValidationErrors(w, validator.ValidationErrors{"user_id": "User ID is required"})
		return
	}

	chat, err := h.chatService.GetOrCreateDirect(r.Context(), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, h.logger, "open direct chat", err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) Join(w http.ResponseWriter, r *http.Request) {
	joined, err := h.chatService.JoinGroup(r.Context(), r.PathValue("id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "join group", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"joined": joined})
}

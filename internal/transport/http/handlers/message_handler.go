package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/service"
	"github.com/vedran77/mavis/internal/transport/http/middleware"
)

type MessageHandler struct {
	messageService *service.MessageService
	logger         *zap.Logger
}

func NewMessageHandler(messageService *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messageService: messageService, logger: logger}
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	messages, err := h.messageService.List(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var input service.SendMessageInput
	if !decodeJSON(w, r, &input) {
		return
	}

	msg, err := h.messageService.Send(r.Context(), r.PathValue("id"), middleware.GetUserID(r.Context()), input)
	if err != nil {
		writeServiceError(w, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.messageService.MarkRead(r.Context(), r.PathValue("id"), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, h.logger, "mark read", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	n, err := h.messageService.UnreadCount(r.Context(), r.PathValue("id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "unread count", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

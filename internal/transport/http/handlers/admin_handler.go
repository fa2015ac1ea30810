package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/service"
	"github.com/vedran77/mavis/internal/transport/http/middleware"
	"github.com/vedran77/mavis/pkg/validator"
)

type AdminHandler struct {
	moderation *service.ModerationService
	bot        *service.BotService
	logger     *zap.Logger
}

func NewAdminHandler(moderation *service.ModerationService, bot *service.BotService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{moderation: moderation, bot: bot, logger: logger}
}

type setFlagRequest struct {
	Username string `json:"username"`
	Value    *bool  `json:"value"`
}

func (req setFlagRequest) validate() validator.ValidationErrors {
	errs := make(validator.ValidationErrors)
	if req.Username == "" {
		errs.Add("username", "Username is required")
	}
	if req.Value == nil {
		errs.Add("value", "Value is required")
	}
	return errs
}

func (h *AdminHandler) SetBanned(w http.ResponseWriter, r *http.Request) {
	var req setFlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	user, err := h.moderation.SetBanned(r.Context(), middleware.GetUserID(r.Context()), req.Username, *req.Value)
	if err != nil {
		writeServiceError(w, h.logger, "set banned", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	var req setFlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.validate(); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	user, err := h.moderation.SetAdmin(r.Context(), middleware.GetUserID(r.Context()), req.Username, *req.Value)
	if err != nil {
		writeServiceError(w, h.logger, "set admin", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) ToggleBan(w http.ResponseWriter, r *http.Request) {
	banned, err := h.moderation.ToggleBanned(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "toggle ban", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"is_banned": banned})
}

func (h *AdminHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.bot.Tickets(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "list tickets", err)
		return
	}

	writeJSON(w, http.StatusOK, tickets)
}

type replyRequest struct {
	Text string `json:"text"`
}

func (h *AdminHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.bot.ReplyAsBot(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), req.Text)
	if err != nil {
		writeServiceError(w, h.logger, "reply to ticket", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *AdminHandler) Close(w http.ResponseWriter, r *http.Request) {
	msg, err := h.bot.CloseTicket(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "close ticket", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

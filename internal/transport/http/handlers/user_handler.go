package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/service"
	"github.com/vedran77/mavis/internal/transport/http/middleware"
)

type UserHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewUserHandler(authService *service.AuthService, logger *zap.Logger) *UserHandler {
	return &UserHandler{authService: authService, logger: logger}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "get me", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var input service.UpdateProfileInput
	if !decodeJSON(w, r, &input) {
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), input)
	if err != nil {
		writeServiceError(w, h.logger, "update profile", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Search handles GET /users?q=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	users, err := h.authService.FindUsers(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, h.logger, "search users", err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "get user", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/middleware"
	"github.com/AnshRaj112/identity-backend/internal/response"
	"github.com/AnshRaj112/identity-backend/internal/services"
)

type UserHandler struct {
	users *services.UserService
	log   *slog.Logger
}

func NewUserHandler(users *services.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, log: logger}
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, apperrors.Unauthorized(middleware.MsgAuthRequired))
		return
	}
	user, err := h.users.GetProfile(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, "Profile retrieved successfully", user)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, apperrors.Unauthorized(middleware.MsgAuthRequired))
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), p.UserID, services.UpdateProfileInput{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, "Profile updated successfully", user)
}

// GetByID serves GET /user/{userId} for administrators.
func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, "Profile retrieved successfully", user)
}

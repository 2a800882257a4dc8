package handlers

import (
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/response"
	"github.com/AnshRaj112/identity-backend/internal/services"
)

type AuthHandler struct {
	auth    *services.AuthService
	uploads *services.UploadService
	log     *slog.Logger
}

func NewAuthHandler(auth *services.AuthService, uploads *services.UploadService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, uploads: uploads, log: logger}
}

type registerRequest struct {
	Email          string  `json:"email"`
	Username       string  `json:"username"`
	Password       string  `json:"password"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

type messageData struct {
	Message string `json:"message"`
}

// Register accepts JSON or a multipart form whose optional profilePicture
// file is stored before the account is created.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	var uploadedKey string

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := parseMultipart(r); err != nil {
			writeError(w, r, h.log, err)
			return
		}
		req.Email = r.FormValue("email")
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")

		if file, header, err := r.FormFile("profilePicture"); err == nil {
			defer file.Close()
			obj, err := h.uploads.Upload(r.Context(), services.ProfilePicturePolicy, "", file, header.Size)
			if err != nil {
				writeError(w, r, h.log, err)
				return
			}
			uploadedKey = obj.Key
			req.ProfilePicture = &obj.URL
		} else if url := strings.TrimSpace(r.FormValue("profilePicture")); url != "" {
			req.ProfilePicture = &url
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		Email:          req.Email,
		Username:       req.Username,
		Password:       req.Password,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		if uploadedKey != "" {
			h.uploads.Discard(r.Context(), uploadedKey)
		}
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusCreated, "User registered successfully", struct {
		User *models.PublicUser `json:"user"`
	}{user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, "User logged in successfully", res)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	msg, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, "Password reset OTP sent successfully", messageData{Message: msg})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.auth.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, services.MsgOTPVerified, res)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, services.MsgPasswordReset, messageData{Message: services.MsgPasswordReset})
}

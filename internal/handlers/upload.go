package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/middleware"
	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/response"
	"github.com/AnshRaj112/identity-backend/internal/services"
	"github.com/AnshRaj112/identity-backend/internal/storage"
)

type UploadHandler struct {
	uploads *services.UploadService
	users   *services.UserService
	log     *slog.Logger
}

func NewUploadHandler(uploads *services.UploadService, users *services.UserService, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, users: users, log: logger}
}

type uploadResult struct {
	ProfilePictureURL string             `json:"profilePictureUrl,omitempty"`
	DocumentURL       string             `json:"documentUrl,omitempty"`
	Filename          string             `json:"filename"`
	Size              int64              `json:"size"`
	Mimetype          string             `json:"mimetype"`
	UploadedBy        string             `json:"uploadedBy"`
	User              *models.PublicUser `json:"user,omitempty"`
}

// receive stores the multipart file in field under policy.
func (h *UploadHandler) receive(r *http.Request, field string, policy services.UploadPolicy, owner string) (*storage.Object, error) {
	if err := parseMultipart(r); err != nil {
		return nil, err
	}
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, apperrors.Validation("No file uploaded", map[string]string{field: "A file is required"})
	}
	if err != nil {
		return nil, apperrors.Validation("Invalid multipart form", nil)
	}
	defer file.Close()
	return h.uploads.Upload(r.Context(), policy, owner, file, header.Size)
}

func result(obj *storage.Object, owner string) uploadResult {
	return uploadResult{
		Filename:   path.Base(obj.Key),
		Size:       obj.Size,
		Mimetype:   obj.ContentType,
		UploadedBy: owner,
	}
}

// ProfilePicturePublic stores a picture before the account exists. The URL is
// then passed to register.
func (h *UploadHandler) ProfilePicturePublic(w http.ResponseWriter, r *http.Request) {
	obj, err := h.receive(r, "profilePicture", services.ProfilePicturePolicy, "")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res := result(obj, "")
	res.ProfilePictureURL = obj.URL
	response.JSON(w, http.StatusOK, "Profile picture uploaded successfully", res)
}

// ProfilePicture stores a picture and makes it the caller's profile picture.
func (h *UploadHandler) ProfilePicture(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, apperrors.Unauthorized(middleware.MsgAuthRequired))
		return
	}
	owner := p.UserID.Hex()
	obj, err := h.receive(r, "profilePicture", services.ProfilePicturePolicy, owner)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	user, err := h.users.SetProfilePicture(r.Context(), p.UserID, obj.URL)
	if err != nil {
		h.uploads.Discard(r.Context(), obj.Key)
		writeError(w, r, h.log, err)
		return
	}
	res := result(obj, owner)
	res.ProfilePictureURL = obj.URL
	res.User = user
	response.JSON(w, http.StatusOK, "Profile picture uploaded successfully", res)
}

func (h *UploadHandler) Document(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, apperrors.Unauthorized(middleware.MsgAuthRequired))
		return
	}
	owner := p.UserID.Hex()
	obj, err := h.receive(r, "document", services.DocumentPolicy, owner)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res := result(obj, owner)
	res.DocumentURL = obj.URL
	response.JSON(w, http.StatusOK, "Document uploaded successfully", res)
}

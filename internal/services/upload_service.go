package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/storage"
)

const sniffLen = 512

// UploadPolicy limits what may be stored under Prefix. Allowed maps a sniffed
// content type to the extension the stored object gets.
type UploadPolicy struct {
	Name     string
	Prefix   string
	MaxBytes int64
	Allowed  map[string]string
}

var (
	ProfilePicturePolicy = UploadPolicy{
		Name:     "profile picture",
		Prefix:   "profiles/",
		MaxBytes: 5 << 20,
		Allowed: map[string]string{
			"image/jpeg": ".jpg",
			"image/png":  ".png",
			"image/gif":  ".gif",
			"image/webp": ".webp",
		},
	}
	DocumentPolicy = UploadPolicy{
		Name:     "document",
		Prefix:   "documents/",
		MaxBytes: 10 << 20,
		Allowed: map[string]string{
			"application/pdf": ".pdf",
			"image/jpeg":      ".jpg",
			"image/png":       ".png",
			"image/gif":       ".gif",
			"image/webp":      ".webp",
			"text/plain":      ".txt",
		},
	}
)

type UploadService struct {
	store storage.Storage
	log   *slog.Logger
	now   func() time.Time
}

func NewUploadService(store storage.Storage, logger *slog.Logger) *UploadService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &UploadService{store: store, log: logger, now: time.Now}
}

// Upload checks r against policy and stores it as
// <prefix><owner>-<unixms>-<uuid><ext>. An empty owner is stored as anonymous.
func (s *UploadService) Upload(ctx context.Context, policy UploadPolicy, owner string, r io.Reader, size int64) (*storage.Object, error) {
	if size > policy.MaxBytes {
		return nil, apperrors.Validation("File too large", map[string]string{
			"file": fmt.Sprintf("File size must not exceed %dMB", policy.MaxBytes>>20),
		})
	}
	if size == 0 {
		return nil, apperrors.Validation("No file uploaded", map[string]string{"file": "File is empty"})
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperrors.Internal("Failed to read upload", err)
	}
	head = head[:n]

	contentType, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	ext, ok := policy.Allowed[contentType]
	if !ok {
		return nil, apperrors.Validation("Invalid file type", map[string]string{
			"file": fmt.Sprintf("File type %s is not allowed for a %s", contentType, policy.Name),
		})
	}

	if owner == "" {
		owner = "anonymous"
	}
	key := fmt.Sprintf("%s%s-%d-%s%s", policy.Prefix, owner, s.now().UnixMilli(), uuid.NewString(), ext)

	body := io.MultiReader(bytes.NewReader(head), io.LimitReader(r, policy.MaxBytes-int64(n)))
	obj, err := s.store.Put(ctx, key, body, size, contentType)
	if err != nil {
		return nil, apperrors.Internal("Failed to upload file", err)
	}

	s.log.InfoContext(ctx, "file uploaded", slog.String("key", obj.Key), slog.String("content_type", contentType), slog.Int64("size", size))
	return obj, nil
}

// Discard deletes a stored object, logging failures.
func (s *UploadService) Discard(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.log.WarnContext(ctx, "failed to delete upload", slog.String("key", key), slog.Any("error", err))
	}
}

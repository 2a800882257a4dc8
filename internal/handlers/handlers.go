// Package handlers adapts HTTP requests to the services.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/response"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 1 << 20

var errBodyTooLarge = apperrors.TooLarge("Request entity too large")

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperrors.Validation("Invalid request body", nil)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return apperrors.Validation("Request body is required", nil)
		}
		return apperrors.Validation("Invalid request body", nil)
	}
	return nil
}

// parseMultipart parses a multipart form, classifying oversized bodies.
func parseMultipart(r *http.Request) error {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return apperrors.Validation("Invalid multipart form", nil)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	response.Error(w, r, logger, err)
}

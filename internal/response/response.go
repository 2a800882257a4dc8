// Package response writes the JSON envelope every endpoint answers with.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
)

type success struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

type failure struct {
	Success    bool              `json:"success"`
	StatusCode int               `json:"statusCode"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, success{Success: true, StatusCode: status, Message: message, Data: data})
}

// Fail writes an error envelope without logging.
func Fail(w http.ResponseWriter, status int, message string, errs map[string]string) {
	write(w, status, failure{StatusCode: status, Message: message, Errors: errs})
}

// Error renders err. Internal errors are logged with their cause; the
// response only ever carries the safe message.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	appErr := apperrors.As(err)
	status := appErr.Kind.Status()
	if appErr.Kind == apperrors.KindInternal {
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
	}
	Fail(w, status, appErr.Message, appErr.Details)
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/response"
	"github.com/AnshRaj112/identity-backend/internal/services"
)

const (
	MsgNoToken      = "Authentication Failed: No token provided"
	MsgAuthRequired = "Authentication required"
	MsgAccessDenied = "Access denied"
)

var (
	AllUsers  = []models.RoleName{models.RoleUser, models.RoleAdmin}
	AdminOnly = []models.RoleName{models.RoleAdmin}
)

// Authenticator resolves an access token to the calling principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*services.Principal, error)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *services.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(ctx context.Context) (*services.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*services.Principal)
	return p, ok && p != nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// Authenticate rejects requests without a valid access token and stores the
// principal in the request context.
func Authenticate(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	security := logging.Security(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				security.WarnContext(r.Context(), "request without token",
					slog.String("path", r.URL.Path), slog.String("user_agent", r.UserAgent()))
				response.Error(w, r, logger, apperrors.Unauthorized(MsgNoToken))
				return
			}
			p, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				response.Error(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole admits principals holding one of roles. Use after Authenticate.
func RequireRole(roles ...models.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				response.Error(w, r, nil, apperrors.Unauthorized(MsgAuthRequired))
				return
			}
			if !p.HasRole(roles...) {
				response.Error(w, r, nil, apperrors.Forbidden(MsgAccessDenied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

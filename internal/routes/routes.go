package routes

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/AnshRaj112/identity-backend/internal/handlers"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/middleware"
	"github.com/AnshRaj112/identity-backend/internal/response"
)

// Handlers groups the endpoint handlers and the token authenticator.
type Handlers struct {
	Auth          *handlers.AuthHandler
	User          *handlers.UserHandler
	Upload        *handlers.UploadHandler
	Realtime      *handlers.RealtimeHandler
	Authenticator middleware.Authenticator
}

type Options struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	Production     bool
	AllowedHost    string
	IPLimiter      *middleware.IPRateLimiter // production only; nil disables
	AuthLimit      *middleware.AuthRateLimit
	UploadDir      string // served at /uploads/ when set
	Started        time.Time
}

// NewRouter builds the HTTP handler for the whole API.
func NewRouter(h Handlers, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(opts.Production))
	if opts.Production && opts.IPLimiter != nil {
		for _, mw := range middleware.ProductionSecurity(opts.AllowedHost, opts.IPLimiter) {
			r.Use(mw)
		}
	}
	r.Use(middleware.RequestSizeLimit(middleware.MaxRequestBytes, opts.Logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Fail(w, http.StatusNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Fail(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/health", handlers.Health(opts.Started))
	if opts.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(opts.UploadDir)))))
	}
	r.Get("/ws", h.Realtime.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		SetupRoutes(r, h, opts.AuthLimit, opts.Logger)
	})
	return r
}

// SetupRoutes registers the versioned API on r.
func SetupRoutes(r chi.Router, h Handlers, authLimit *middleware.AuthRateLimit, logger *slog.Logger) {
	authenticate := middleware.Authenticate(h.Authenticator, logger)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
		r.Post("/forgot-password", h.Auth.ForgotPassword)
		r.Group(func(r chi.Router) {
			if authLimit != nil {
				r.Use(authLimit.Handler)
			}
			r.Post("/verify-otp", h.Auth.VerifyOTP)
			r.Post("/reset-password", h.Auth.ResetPassword)
		})
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(authenticate)
		r.With(middleware.RequireRole(middleware.AllUsers...)).Get("/profile", h.User.GetProfile)
		r.With(middleware.RequireRole(middleware.AllUsers...)).Put("/profile", h.User.UpdateProfile)
		r.With(middleware.RequireRole(middleware.AdminOnly...)).Get("/{userId}", h.User.GetByID)
	})

	r.Route("/upload", func(r chi.Router) {
		r.Post("/profile-picture-public", h.Upload.ProfilePicturePublic)
		r.Group(func(r chi.Router) {
			r.Use(authenticate, middleware.RequireRole(middleware.AllUsers...))
			r.Post("/profile-picture", h.Upload.ProfilePicture)
			r.Post("/document", h.Upload.Document)
		})
	})
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/identity-backend/internal/config"
	"github.com/AnshRaj112/identity-backend/internal/database"
	"github.com/AnshRaj112/identity-backend/internal/handlers"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/mailer"
	"github.com/AnshRaj112/identity-backend/internal/middleware"
	"github.com/AnshRaj112/identity-backend/internal/realtime"
	"github.com/AnshRaj112/identity-backend/internal/repository"
	"github.com/AnshRaj112/identity-backend/internal/routes"
	"github.com/AnshRaj112/identity-backend/internal/services"
	"github.com/AnshRaj112/identity-backend/internal/storage"
	"github.com/AnshRaj112/identity-backend/pkg/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(logging.Options{
		Production: cfg.IsProduction(),
		Level:      cfg.LogLevel,
	})
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	started := time.Now()

	users, roles, closeStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := roles.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURI != "" {
		rdb, err = database.ConnectRedis(ctx, cfg.RedisURI, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		roles = services.NewRoleCache(roles, rdb, cfg.RoleCacheTTL, logger)
	} else {
		logger.Warn("REDIS_URI not set, rate limits and realtime events are local to this instance")
	}

	tokens, err := services.NewTokenIssuer(services.TokenConfig{
		AccessSecret: cfg.JWT.AccessSecret,
		ResetSecret:  cfg.JWT.ResetSecret,
		AccessTTL:    cfg.JWT.AccessTTL,
		ResetTTL:     cfg.JWT.ResetTTL,
		Issuer:       cfg.JWT.Issuer,
	})
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	mail, err := newMailer(cfg.Mail)
	if err != nil {
		return err
	}
	notifier, err := services.NewEmailNotifier(mail)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	store, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	logger.Info("upload storage ready", slog.String("driver", cfg.Storage.Driver))

	hub := realtime.NewHub(rdb, logger)
	go hub.Run(ctx)

	auth := services.NewAuthService(services.AuthDeps{
		Users:     users,
		Roles:     roles,
		Hasher:    utils.NewPasswordHasher(cfg.Hashing.BcryptCost, cfg.Hashing.Workers),
		Tokens:    tokens,
		Notifier:  notifier,
		Publisher: hub,
		Logger:    logger,
	})
	userSvc := services.NewUserService(users, roles, hub, logger)
	uploads := services.NewUploadService(store, logger)

	var counter middleware.Counter = middleware.NewMemoryCounter()
	if rdb != nil {
		counter = middleware.NewRedisCounter(rdb)
	}

	var ipLimiter *middleware.IPRateLimiter
	if cfg.IsProduction() {
		ipLimiter = middleware.DefaultIPRateLimiter(cfg.TrustProxy)
		go ipLimiter.Run(ctx)
		logger.Info("production security enabled", slog.String("host", cfg.AllowedHost))
	}

	uploadDir := ""
	if local, ok := store.(*storage.LocalStorage); ok {
		uploadDir = local.Dir()
	}

	router := routes.NewRouter(routes.Handlers{
		Auth:          handlers.NewAuthHandler(auth, uploads, logger),
		User:          handlers.NewUserHandler(userSvc, logger),
		Upload:        handlers.NewUploadHandler(uploads, userSvc, logger),
		Realtime:      handlers.NewRealtimeHandler(auth, hub, cfg.AllowedOrigins, logger),
		Authenticator: auth,
	}, routes.Options{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		Production:     cfg.IsProduction(),
		AllowedHost:    cfg.AllowedHost,
		IPLimiter:      ipLimiter,
		AuthLimit:      middleware.NewAuthRateLimit(counter, cfg.AuthRateLimit, cfg.AuthRateWindow, cfg.TrustProxy, logger),
		UploadDir:      uploadDir,
		Started:        started,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("identity backend listening",
			slog.String("addr", srv.Addr),
			slog.String("env", cfg.Environment),
			slog.String("store", cfg.StoreDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}

type storeCloser func()

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.UserStore, services.RoleStore, storeCloser, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryUsers(), repository.NewMemoryRoles(), func() {}, nil
	}

	client, db, err := database.Connect(ctx, cfg.MongoURI, "", logger)
	if err != nil {
		return nil, nil, nil, err
	}
	closer := func() {
		if err := database.Disconnect(client); err != nil {
			logger.Warn("mongo disconnect failed", slog.Any("error", err))
		}
	}

	users := repository.NewMongoUsers(db)
	roles := repository.NewMongoRoles(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		closer()
		return nil, nil, nil, fmt.Errorf("user indexes: %w", err)
	}
	if err := roles.EnsureIndexes(ctx); err != nil {
		closer()
		return nil, nil, nil, fmt.Errorf("role indexes: %w", err)
	}
	return users, roles, closer, nil
}

func newMailer(cfg config.MailConfig) (mailer.Mailer, error) {
	switch cfg.Driver {
	case config.MailPostmark:
		m, err := mailer.NewPostmark(mailer.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.From,
			ReplyTo:      cfg.ReplyTo,
		})
		if err != nil {
			return nil, fmt.Errorf("postmark: %w", err)
		}
		return m, nil
	default:
		return mailer.NewDevMailer(cfg.DevDir), nil
	}
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.StorageCloudinary:
		s, err := storage.NewCloudinaryStorage(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		if err != nil {
			return nil, fmt.Errorf("cloudinary: %w", err)
		}
		return s, nil
	case config.StorageS3:
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			AccessKeyID:    cfg.S3AccessKeyID,
			SecretKey:      cfg.S3SecretKey,
			Endpoint:       cfg.S3Endpoint,
			BaseURL:        cfg.S3PublicURL,
			ForcePathStyle: cfg.S3ForcePathStyle,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(cfg.UploadDir, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		return s, nil
	}
}

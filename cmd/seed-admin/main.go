// Command seed-admin creates an administrator account, or promotes an
// existing account, in the configured MongoDB store.
//
//	seed-admin -email admin@example.com [-username admin] [-password ...]
//
// The password may also come from SEED_ADMIN_PASSWORD. It is only needed
// when the account does not exist yet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/config"
	"github.com/AnshRaj112/identity-backend/internal/database"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/repository"
	"github.com/AnshRaj112/identity-backend/internal/services"
	"github.com/AnshRaj112/identity-backend/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("seed-admin", flag.ExitOnError)
	email := fs.String("email", "", "admin email (required)")
	username := fs.String("username", "", "username for a new account")
	password := fs.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "password for a new account")
	_ = fs.Parse(os.Args[1:])

	if *email == "" {
		fmt.Fprintln(os.Stderr, "seed-admin: -email is required")
		fs.Usage()
		os.Exit(2)
	}

	if err := run(*email, *username, *password); err != nil {
		fmt.Fprintf(os.Stderr, "seed-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(email, username, password string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.StoreMongo {
		return errors.New("STORE_DRIVER must be mongo")
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, db, err := database.Connect(ctx, cfg.MongoURI, "", logger)
	if err != nil {
		return err
	}
	defer database.Disconnect(client)

	users := repository.NewMongoUsers(db)
	roles := repository.NewMongoRoles(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}
	if err := roles.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("role indexes: %w", err)
	}

	auth := services.NewAuthService(services.AuthDeps{
		Users:  users,
		Roles:  roles,
		Hasher: utils.NewPasswordHasher(cfg.Hashing.BcryptCost, 1),
		Logger: logger,
	})
	user, created, err := auth.SeedAdmin(ctx, services.RegisterInput{
		Email:    email,
		Username: username,
		Password: password,
	})
	if err != nil {
		if appErr := apperrors.As(err); appErr.Kind == apperrors.KindValidation {
			for field, msg := range appErr.Details {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
			}
		}
		return err
	}

	action := "promoted"
	if created {
		action = "created"
	}
	logger.Info("admin "+action, slog.String("user_id", user.ID), slog.String("email", user.Email))
	return nil
}

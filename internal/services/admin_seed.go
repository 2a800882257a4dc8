package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/repository"
	"github.com/AnshRaj112/identity-backend/pkg/utils"
)

// SeedAdmin gives the account behind in.Email the admin role, registering it
// first when it does not exist. The password is only used for a new account.
// created reports whether an account was registered.
func (s *AuthService) SeedAdmin(ctx context.Context, in RegisterInput) (user *models.PublicUser, created bool, err error) {
	if err := s.roles.EnsureDefaults(ctx); err != nil {
		return nil, false, apperrors.Internal("Seeding roles failed", err)
	}
	admin, err := s.roles.FindByName(ctx, models.RoleAdmin)
	if err != nil {
		return nil, false, apperrors.Internal("Admin role not found", err)
	}

	existing, err := s.users.FindByEmail(ctx, utils.NormalizeEmail(in.Email))
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		pub, err := s.Register(ctx, in)
		if err != nil {
			return nil, false, err
		}
		existing, err = s.users.FindByEmail(ctx, pub.Email)
		if err != nil {
			return nil, false, apperrors.Internal("Seeding admin failed", err)
		}
		created = true
	default:
		return nil, false, apperrors.Internal("Seeding admin failed", err)
	}

	if existing.RoleID != admin.ID {
		if err := s.users.SetRole(ctx, existing.ID, admin.ID); err != nil {
			return nil, created, apperrors.Internal("Seeding admin failed", err)
		}
		existing.RoleID = admin.ID
	}

	logging.Security(s.log).InfoContext(ctx, "admin role granted",
		slog.String("user_id", existing.ID.Hex()),
		slog.Bool("created", created),
	)
	return existing.Public(admin), created, nil
}

package services

import (
	"context"
	"errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/repository"
	"github.com/AnshRaj112/identity-backend/pkg/utils"
)

const MsgUserNotFound = "User not found"

type UserService struct {
	users     UserStore
	roles     RoleStore
	publisher Publisher
	log       *slog.Logger
}

func NewUserService(users UserStore, roles RoleStore, publisher Publisher, logger *slog.Logger) *UserService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &UserService{users: users, roles: roles, publisher: publisher, log: logger}
}

func (s *UserService) GetProfile(ctx context.Context, id primitive.ObjectID) (*models.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(MsgUserNotFound)
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to load profile", err)
	}
	return s.public(ctx, user)
}

// GetByID looks up any user by hex id for administrators.
func (s *UserService) GetByID(ctx context.Context, hexID string) (*models.PublicUser, error) {
	id, err := primitive.ObjectIDFromHex(hexID)
	if err != nil {
		return nil, apperrors.Validation(MsgValidationFailed, map[string]string{"userId": "Invalid user id"})
	}
	return s.GetProfile(ctx, id)
}

type UpdateProfileInput struct {
	Username *string
	Email    *string
}

// UpdateProfile changes username and/or email. Values already owned by
// another account are rejected with a per-field conflict.
func (s *UserService) UpdateProfile(ctx context.Context, id primitive.ObjectID, in UpdateProfileInput) (*models.PublicUser, error) {
	var upd repository.ProfileUpdate
	var errs []error
	var email, username string
	if in.Username != nil {
		username = utils.NormalizeUsername(*in.Username)
		errs = append(errs, utils.ValidateUsername(username))
		upd.Username = &username
	}
	if in.Email != nil {
		email = utils.NormalizeEmail(*in.Email)
		errs = append(errs, utils.ValidateEmail(email))
		upd.Email = &email
	}
	if upd.Empty() {
		return nil, apperrors.Validation(MsgValidationFailed, map[string]string{"profile": "Provide a username or email to update"})
	}
	if err := collectValidation(errs...); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmailOrUsername(ctx, email, username, id)
	switch {
	case err == nil:
		return nil, conflictFor(existing, email)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.Internal("Failed to update profile", err)
	}

	user, err := s.users.UpdateProfile(ctx, id, upd)
	if err != nil {
		var dup *repository.DuplicateKeyError
		switch {
		case errors.As(err, &dup):
			return nil, duplicateConflict(dup.Field)
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.NotFound(MsgUserNotFound)
		}
		return nil, apperrors.Internal("Failed to update profile", err)
	}

	s.log.InfoContext(ctx, "profile updated", slog.String("user_id", id.Hex()))
	return s.public(ctx, user)
}

// SetProfilePicture stores ref as the user's picture and notifies their sessions.
func (s *UserService) SetProfilePicture(ctx context.Context, id primitive.ObjectID, ref string) (*models.PublicUser, error) {
	user, err := s.users.SetProfilePicture(ctx, id, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(MsgUserNotFound)
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to update profile picture", err)
	}

	if err := s.publisher.PublishToUser(ctx, id.Hex(), EventNotify, map[string]string{
		"type":           "profile-picture",
		"profilePicture": ref,
	}); err != nil {
		s.log.WarnContext(ctx, "profile picture notification failed", slog.String("user_id", id.Hex()), slog.Any("error", err))
	}
	return s.public(ctx, user)
}

func (s *UserService) public(ctx context.Context, user *models.User) (*models.PublicUser, error) {
	role, err := s.roles.FindByID(ctx, user.RoleID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal("Failed to load role", err)
	}
	return user.Public(role), nil
}

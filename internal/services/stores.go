package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/repository"
)

// UserStore is implemented by repository.MongoUsers and repository.MemoryUsers.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string, exclude primitive.ObjectID) (*models.User, error)
	SetResetOTP(ctx context.Context, id primitive.ObjectID, otp models.ResetOTP) error
	ClearResetOTP(ctx context.Context, id primitive.ObjectID, code string) error
	ConsumeResetOTP(ctx context.Context, email, code string, now time.Time) (*models.User, error)
	UpdatePassword(ctx context.Context, id primitive.ObjectID, oldHash, newHash string) error
	UpdateProfile(ctx context.Context, id primitive.ObjectID, upd repository.ProfileUpdate) (*models.User, error)
	SetProfilePicture(ctx context.Context, id primitive.ObjectID, ref string) (*models.User, error)
	SetRole(ctx context.Context, id, roleID primitive.ObjectID) error
}

type RoleStore interface {
	EnsureDefaults(ctx context.Context) error
	FindByName(ctx context.Context, name models.RoleName) (*models.Role, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Role, error)
}

// PasswordHasher is implemented by utils.PasswordHasher.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Compare(ctx context.Context, hash, password string) (bool, error)
	CompareDummy(ctx context.Context, password string)
}

// Publisher pushes an event to every realtime connection of a user.
type Publisher interface {
	PublishToUser(ctx context.Context, userID, event string, payload any) error
}

type noopPublisher struct{}

func (noopPublisher) PublishToUser(context.Context, string, string, any) error { return nil }

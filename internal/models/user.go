package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`

	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password" json:"-"` // Don't return password in JSON
	RoleID       primitive.ObjectID `bson:"role" json:"-"`

	ProfilePicture *string `bson:"profile_picture,omitempty" json:"profile_picture,omitempty"`

	// Code and expiry live in one sub-document so they are set and cleared together.
	ResetOTP *ResetOTP `bson:"reset_otp,omitempty" json:"-"`
}

// ResetOTP is a pending password-reset code.
type ResetOTP struct {
	Code      string    `bson:"code"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// PublicUser is the sanitized identity view returned to callers.
type PublicUser struct {
	ID             string    `json:"_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Role           *Role     `json:"role"`
	ProfilePicture *string   `json:"profilePicture"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Public builds the sanitized view of u with its resolved role.
func (u *User) Public(role *Role) *PublicUser {
	return &PublicUser{
		ID:             u.ID.Hex(),
		Username:       u.Username,
		Email:          u.Email,
		Role:           role,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// DisplayName is the name used in notification greetings.
func (u *User) DisplayName() string {
	return u.Username
}

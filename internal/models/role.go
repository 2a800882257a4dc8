package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RoleName string

const (
	RoleUser  RoleName = "user"
	RoleAdmin RoleName = "admin"
)

// DefaultRoles are seeded at startup when absent.
var DefaultRoles = []Role{
	{Name: RoleUser, Description: "Standard user role"},
	{Name: RoleAdmin, Description: "Administrator role"},
}

// Valid reports whether n is one of the fixed role names.
func (n RoleName) Valid() bool {
	return n == RoleUser || n == RoleAdmin
}

type Role struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
	Name        RoleName           `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
}

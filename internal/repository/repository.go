// Package repository persists identity and role records. MongoUsers and
// MongoRoles back the service in production; MemoryUsers and MemoryRoles
// implement the same contracts in process for development and tests.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no record matches a lookup or update.
var ErrNotFound = errors.New("repository: not found")

// DuplicateKeyError reports a unique-index violation. Field names the
// violated attribute ("email" or "username") when it can be determined.
type DuplicateKeyError struct {
	Field string
	Err   error
}

func (e *DuplicateKeyError) Error() string {
	if e.Field == "" {
		return "repository: duplicate key"
	}
	return fmt.Sprintf("repository: duplicate %s", e.Field)
}

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

// ProfileUpdate lists the profile fields to change. Nil fields are left as is.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil
}

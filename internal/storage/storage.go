// Package storage puts uploaded files somewhere they can be served from.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrInvalidKey    = errors.New("storage: invalid key")
	ErrInvalidConfig = errors.New("storage: invalid config")
	ErrNotFound      = errors.New("storage: object not found")
)

// Object is a stored file. URL is what callers persist and hand to clients.
type Object struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// Storage is implemented by LocalStorage, CloudinaryStorage and S3Storage.
// Keys are slash-separated relative paths such as "profiles/<name>.png".
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// cleanKey rejects absolute and parent-relative keys.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") || strings.ContainsRune(key, '\\') {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

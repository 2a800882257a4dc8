package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryStorage uploads to a Cloudinary folder. The key without its
// extension becomes the public id.
type CloudinaryStorage struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryStorage(cloudName, apiKey, apiSecret, folder string) (*CloudinaryStorage, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, ErrInvalidConfig
	}
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	return &CloudinaryStorage{cld: cld, folder: strings.Trim(folder, "/")}, nil
}

func (s *CloudinaryStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	res, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID:     s.publicID(key),
		ResourceType: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("failed to upload to Cloudinary: %s", res.Error.Message)
	}

	return &Object{Key: key, URL: res.SecureURL, Size: size, ContentType: contentType}, nil
}

func (s *CloudinaryStorage) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	res, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     s.publicID(key),
		ResourceType: resourceType(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from Cloudinary: %w", err)
	}
	if res.Error.Message != "" {
		return errors.New(res.Error.Message)
	}
	if res.Result == "not found" {
		return ErrNotFound
	}
	return nil
}

func (s *CloudinaryStorage) publicID(key string) string {
	id := strings.TrimSuffix(key, path.Ext(key))
	if s.folder == "" {
		return id
	}
	return s.folder + "/" + id
}

// resourceType maps an extension to the Cloudinary resource type it was
// auto-detected as on upload.
func resourceType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".pdf":
		return "image"
	default:
		return "raw"
	}
}

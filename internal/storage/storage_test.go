package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "/", "../etc/passwd", "profiles/../../x", `profiles\x.png`} {
		_, err := cleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}

	got, err := cleanKey("/profiles/a.png")
	require.NoError(t, err)
	assert.Equal(t, "profiles/a.png", got)
}

func TestLocalStoragePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/uploads")
	require.NoError(t, err)

	obj, err := s.Put(context.Background(), "profiles/a.png", strings.NewReader("png-bytes"), 9, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/profiles/a.png", obj.URL)
	assert.Equal(t, int64(9), obj.Size)

	data, err := os.ReadFile(filepath.Join(dir, "profiles", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	// Keys are never overwritten.
	_, err = s.Put(context.Background(), "profiles/a.png", strings.NewReader("other"), 5, "image/png")
	assert.Error(t, err)

	require.NoError(t, s.Delete(context.Background(), "profiles/a.png"))
	assert.ErrorIs(t, s.Delete(context.Background(), "profiles/a.png"), ErrNotFound)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "/uploads/")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1, "text/plain")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func TestS3StoragePut(t *testing.T) {
	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return *in.Bucket == "avatars" && *in.Key == "profiles/a.png" && *in.ContentType == "image/png" && string(body) == "png"
	})).Return(&s3.PutObjectOutput{}, nil)

	s, err := NewS3Storage(context.Background(), S3Config{Bucket: "avatars", Region: "eu-west-1"}, client)
	require.NoError(t, err)

	obj, err := s.Put(context.Background(), "profiles/a.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://avatars.s3.eu-west-1.amazonaws.com/profiles/a.png", obj.URL)
	client.AssertExpectations(t)
}

func TestS3StorageEndpointURLAndErrors(t *testing.T) {
	client := &mockS3{}
	client.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	s, err := NewS3Storage(context.Background(), S3Config{
		Bucket:   "avatars",
		Region:   "us-east-1",
		Endpoint: "http://localhost:9000/",
	}, client)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/avatars/", s.baseURL)

	err = s.Delete(context.Background(), "profiles/a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	other := &mockS3{}
	other.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: refused"))
	s.client = other
	err = s.Delete(context.Background(), "profiles/a.png")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewS3StorageRequiresBucketAndRegion(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{Bucket: "b"}, &mockS3{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCloudinaryHelpers(t *testing.T) {
	s := &CloudinaryStorage{folder: "identity"}
	assert.Equal(t, "identity/profiles/u-1-abc", s.publicID("profiles/u-1-abc.png"))
	assert.Equal(t, "image", resourceType("profiles/a.WEBP"))
	assert.Equal(t, "raw", resourceType("documents/a.txt"))

	_, err := NewCloudinaryStorage("", "k", "s", "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

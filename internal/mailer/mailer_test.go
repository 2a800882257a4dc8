package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPostmark struct {
	mock.Mock
}

func (m *mockPostmark) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(postmark.EmailResponse), args.Error(1)
}

func validMessage() Message {
	return Message{To: "alice@x.com", Subject: "Password Reset OTP", HTMLBody: "<p>123456</p>", Tag: "password-reset-otp"}
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, validMessage().Validate())

	m := validMessage()
	m.To = "not-an-address"
	assert.ErrorIs(t, m.Validate(), ErrInvalidParams)

	m = validMessage()
	m.Subject = "  "
	assert.ErrorIs(t, m.Validate(), ErrInvalidParams)

	m = validMessage()
	m.HTMLBody = ""
	assert.ErrorIs(t, m.Validate(), ErrInvalidParams)
	m.TextBody = "123456"
	assert.NoError(t, m.Validate())
}

func TestPostmarkSend(t *testing.T) {
	api := &mockPostmark{}
	api.On("SendEmail", mock.Anything, mock.MatchedBy(func(e postmark.Email) bool {
		return e.From == "no-reply@example.com" && e.To == "alice@x.com" && e.Tag == "password-reset-otp"
	})).Return(postmark.EmailResponse{}, nil).Once()

	p := &Postmark{client: api, cfg: PostmarkConfig{ServerToken: "t", From: "no-reply@example.com"}}
	require.NoError(t, p.Send(context.Background(), validMessage()))
	api.AssertExpectations(t)
}

func TestPostmarkSendFailures(t *testing.T) {
	api := &mockPostmark{}
	api.On("SendEmail", mock.Anything, mock.Anything).Return(postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}, nil).Once()
	api.On("SendEmail", mock.Anything, mock.Anything).Return(postmark.EmailResponse{}, errors.New("timeout")).Once()

	p := &Postmark{client: api, cfg: PostmarkConfig{ServerToken: "t", From: "no-reply@example.com"}}

	err := p.Send(context.Background(), validMessage())
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "inactive recipient")

	err = p.Send(context.Background(), validMessage())
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestNewPostmarkRequiresConfig(t *testing.T) {
	_, err := NewPostmark(PostmarkConfig{From: "a@b.com"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPostmark(PostmarkConfig{ServerToken: "t"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDevMailerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	d := NewDevMailer(dir)
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, d.Send(context.Background(), validMessage()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var envPath string
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Name(), "2026_01_02_030405_password-reset-otp"), e.Name())
		if strings.HasSuffix(e.Name(), ".json") {
			envPath = filepath.Join(dir, e.Name())
		}
	}
	raw, err := os.ReadFile(envPath)
	require.NoError(t, err)

	var env devEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "alice@x.com", env.To)
	assert.Equal(t, "Password Reset OTP", env.Subject)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "password_reset_otp", sanitizeFilename("Password Reset OTP!"))
	assert.Equal(t, "email", sanitizeFilename("???"))
}

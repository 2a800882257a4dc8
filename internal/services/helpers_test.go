package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/repository"
	"github.com/AnshRaj112/identity-backend/pkg/utils"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentOTP struct {
	Email, Code, Name string
}

type recordingNotifier struct {
	mu            sync.Mutex
	otps          []sentOTP
	confirmations []string
	otpErr        error
	confirmErr    error
}

func (n *recordingNotifier) SendOTP(_ context.Context, email, code, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.otpErr != nil {
		return n.otpErr
	}
	n.otps = append(n.otps, sentOTP{Email: email, Code: code, Name: name})
	return nil
}

func (n *recordingNotifier) SendResetConfirmation(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.confirmErr != nil {
		return n.confirmErr
	}
	n.confirmations = append(n.confirmations, email)
	return nil
}

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.otps, "no otp was sent")
	return n.otps[len(n.otps)-1].Code
}

type published struct {
	UserID, Event string
	Payload       any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishToUser(_ context.Context, userID, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{UserID: userID, Event: event, Payload: payload})
	return nil
}

type authFixture struct {
	auth      *AuthService
	users     *repository.MemoryUsers
	roles     *repository.MemoryRoles
	tokens    *TokenIssuer
	notifier  *recordingNotifier
	publisher *recordingPublisher
	clock     *testClock
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	clock := newTestClock()
	roles := repository.NewMemoryRoles()
	require.NoError(t, roles.EnsureDefaults(context.Background()))

	tokens, err := NewTokenIssuer(TokenConfig{
		AccessSecret: "access-secret-for-tests",
		ResetSecret:  "reset-secret-for-tests",
		Now:          clock.Now,
	})
	require.NoError(t, err)

	f := &authFixture{
		users:     repository.NewMemoryUsers(),
		roles:     roles,
		tokens:    tokens,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		clock:     clock,
	}
	f.auth = NewAuthService(AuthDeps{
		Users:     f.users,
		Roles:     f.roles,
		Hasher:    utils.NewPasswordHasher(bcrypt.MinCost, 4),
		Tokens:    tokens,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Logger:    logging.Discard(),
		Now:       clock.Now,
	})
	return f
}

func (f *authFixture) register(t *testing.T, email, username, password string) {
	t.Helper()
	_, err := f.auth.Register(context.Background(), RegisterInput{Email: email, Username: username, Password: password})
	require.NoError(t, err)
}

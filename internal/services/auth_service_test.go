package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/repository"
)

func requireKind(t *testing.T, err error, kind apperrors.Kind, msg string) *apperrors.Error {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.As(err)
	assert.Equal(t, kind, appErr.Kind, appErr.Error())
	if msg != "" {
		assert.Equal(t, msg, appErr.Message)
	}
	return appErr
}

func TestRegisterReturnsSanitizedView(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	pic := "https://cdn.example.com/a.png"
	user, err := f.auth.Register(ctx, RegisterInput{
		Email:          "  Alice@X.com ",
		Username:       " alice ",
		Password:       "secret1",
		ProfilePicture: &pic,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@x.com", user.Email)
	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, user.Role)
	assert.Equal(t, models.RoleUser, user.Role.Name)
	assert.Equal(t, &pic, user.ProfilePicture)

	stored, err := f.users.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)

	raw, err := json.Marshal(user)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), stored.PasswordHash)
	assert.NotContains(t, string(raw), "otp")
}

func TestRegisterConflicts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	_, err := f.auth.Register(ctx, RegisterInput{Email: "alice@x.com", Username: "alice2", Password: "secret1"})
	appErr := requireKind(t, err, apperrors.KindConflict, MsgEmailExists)
	assert.Contains(t, appErr.Details, "email")

	_, err = f.auth.Register(ctx, RegisterInput{Email: "alice2@x.com", Username: "alice", Password: "secret1"})
	appErr = requireKind(t, err, apperrors.KindConflict, MsgUsernameExists)
	assert.Contains(t, appErr.Details, "username")
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Register(context.Background(), RegisterInput{Email: "nope", Username: "a", Password: "123"})
	appErr := requireKind(t, err, apperrors.KindValidation, MsgValidationFailed)
	assert.Len(t, appErr.Details, 3)
	assert.Contains(t, appErr.Details, "email")
	assert.Contains(t, appErr.Details, "username")
	assert.Contains(t, appErr.Details, "password")
}

func TestRegisterWithoutDefaultRole(t *testing.T) {
	f := newAuthFixture(t)
	f.auth.roles = repository.NewMemoryRoles()

	_, err := f.auth.Register(context.Background(), RegisterInput{Email: "alice@x.com", Username: "alice", Password: "secret1"})
	requireKind(t, err, apperrors.KindInternal, MsgDefaultRoleMissing)
}

// racingUsers reports no existing user but loses the insert, as when a
// concurrent registration wins the unique index.
type racingUsers struct {
	*repository.MemoryUsers
	field string
}

func (r racingUsers) FindByEmailOrUsername(context.Context, string, string, primitive.ObjectID) (*models.User, error) {
	return nil, repository.ErrNotFound
}

func (r racingUsers) Create(context.Context, *models.User) error {
	return &repository.DuplicateKeyError{Field: r.field}
}

func TestRegisterDuplicateAtInsert(t *testing.T) {
	f := newAuthFixture(t)
	f.auth.users = racingUsers{MemoryUsers: f.users, field: "username"}

	_, err := f.auth.Register(context.Background(), RegisterInput{Email: "alice@x.com", Username: "alice", Password: "secret1"})
	requireKind(t, err, apperrors.KindConflict, MsgUsernameExists)
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@x.com", "alice", "secret1")

	res, err := f.auth.Login(context.Background(), "ALICE@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, models.RoleUser, res.User.Role.Name)

	sub, err := f.tokens.VerifyAccess(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, sub)
}

func TestLoginDoesNotRevealAccounts(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@x.com", "alice", "secret1")

	_, wrongPassword := f.auth.Login(context.Background(), "alice@x.com", "wrong-password")
	_, unknownEmail := f.auth.Login(context.Background(), "nobody@x.com", "secret1")

	a := requireKind(t, wrongPassword, apperrors.KindUnauthorized, MsgInvalidCredentials)
	b := requireKind(t, unknownEmail, apperrors.KindUnauthorized, MsgInvalidCredentials)
	assert.Equal(t, a, b)
}

func TestForgotPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	msg, err := f.auth.ForgotPassword(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Equal(t, MsgForgotPassword, msg)
	assert.Empty(t, f.notifier.otps)

	msg, err = f.auth.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, MsgForgotPassword, msg)

	stored, err := f.users.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.ResetOTP)
	assert.Equal(t, f.notifier.lastCode(t), stored.ResetOTP.Code)
	assert.Regexp(t, `^\d{6}$`, stored.ResetOTP.Code)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), stored.ResetOTP.ExpiresAt)
	assert.Equal(t, "alice", f.notifier.otps[0].Name)
}

func TestForgotPasswordRollsBackWhenDeliveryFails(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	f.notifier.otpErr = errors.New("smtp unavailable")

	_, err := f.auth.ForgotPassword(ctx, "alice@x.com")
	requireKind(t, err, apperrors.KindInternal, MsgEmailUnavailable)

	stored, err := f.users.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetOTP)
}

func TestForgotPasswordLastWriterWins(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	codes := []string{"111111", "222222"}
	f.auth.otp = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	_, err := f.auth.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)
	_, err = f.auth.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", "111111")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidOTP)

	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", "222222")
	require.NoError(t, err)
}

// overlappingNotifier stores a second code for the same account before the
// first delivery fails, standing in for an overlapping request.
type overlappingNotifier struct {
	*recordingNotifier
	users  *repository.MemoryUsers
	userID primitive.ObjectID
	expiry time.Time
	once   sync.Once
}

func (n *overlappingNotifier) SendOTP(ctx context.Context, email, code, name string) error {
	var failed bool
	n.once.Do(func() {
		failed = true
		_ = n.users.SetResetOTP(ctx, n.userID, models.ResetOTP{Code: "999999", ExpiresAt: n.expiry})
	})
	if failed {
		return errors.New("smtp unavailable")
	}
	return n.recordingNotifier.SendOTP(ctx, email, code, name)
}

func TestForgotPasswordRollbackKeepsNewerCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	alice, err := f.users.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)

	f.auth.otp = func() (string, error) { return "111111", nil }
	f.auth.notifier = &overlappingNotifier{
		recordingNotifier: f.notifier,
		users:             f.users,
		userID:            alice.ID,
		expiry:            f.clock.Now().Add(OTPTTL),
	}

	_, err = f.auth.ForgotPassword(ctx, "alice@x.com")
	requireKind(t, err, apperrors.KindInternal, MsgEmailUnavailable)

	stored, err := f.users.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.ResetOTP)
	assert.Equal(t, "999999", stored.ResetOTP.Code)

	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", "999999")
	require.NoError(t, err)
}

func TestVerifyOTPSucceedsOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	_, err := f.auth.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)
	code := f.notifier.lastCode(t)

	res, err := f.auth.VerifyOTP(ctx, "alice@x.com", code)
	require.NoError(t, err)
	assert.Equal(t, MsgOTPVerified, res.Message)
	assert.Equal(t, "10 minutes", res.ExpiresIn)
	assert.NotEmpty(t, res.ResetToken)

	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", code)
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidOTP)
}

func TestVerifyOTPExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	_, err := f.auth.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute + time.Second)
	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", f.notifier.lastCode(t))
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidOTP)
}

func TestVerifyOTPWrongCodeOrEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	f.auth.otp = func() (string, error) { return "123456", nil }
	_, err := f.auth.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", "654321")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidOTP)

	_, err = f.auth.VerifyOTP(ctx, "bob@x.com", "123456")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidOTP)

	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", "12345")
	requireKind(t, err, apperrors.KindValidation, "")

	// The failed attempts did not burn the code.
	_, err = f.auth.VerifyOTP(ctx, "alice@x.com", "123456")
	require.NoError(t, err)
}

func (f *authFixture) resetToken(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()
	_, err := f.auth.ForgotPassword(ctx, email)
	require.NoError(t, err)
	res, err := f.auth.VerifyOTP(ctx, email, f.notifier.lastCode(t))
	require.NoError(t, err)
	return res.ResetToken
}

func TestResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	token := f.resetToken(t, "alice@x.com")

	require.NoError(t, f.auth.ResetPassword(ctx, token, "newpass1"))

	_, err := f.auth.Login(ctx, "alice@x.com", "secret1")
	requireKind(t, err, apperrors.KindUnauthorized, MsgInvalidCredentials)
	_, err = f.auth.Login(ctx, "alice@x.com", "newpass1")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice@x.com"}, f.notifier.confirmations)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, EventNotify, f.publisher.events[0].Event)
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	token := f.resetToken(t, "alice@x.com")

	require.NoError(t, f.auth.ResetPassword(ctx, token, "newpass1"))
	err := f.auth.ResetPassword(ctx, token, "newpass2")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgResetTokenMismatch)
}

// slowHasher stretches Hash so concurrent resets overlap the way they do
// at production bcrypt cost.
type slowHasher struct {
	PasswordHasher
	delay time.Duration
}

func (h slowHasher) Hash(ctx context.Context, password string) (string, error) {
	time.Sleep(h.delay)
	return h.PasswordHasher.Hash(ctx, password)
}

func TestResetPasswordConcurrentReuse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	token := f.resetToken(t, "alice@x.com")
	f.auth.hasher = slowHasher{PasswordHasher: f.auth.hasher, delay: 20 * time.Millisecond}

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.auth.ResetPassword(ctx, token, fmt.Sprintf("newpass%d", i))
		}(i)
	}
	wg.Wait()

	won := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, won, "more than one reset succeeded")
			won = i
			continue
		}
		requireKind(t, err, apperrors.KindInvalidOrExpired, MsgResetTokenMismatch)
	}
	require.NotEqual(t, -1, won)

	_, err := f.auth.Login(ctx, "alice@x.com", fmt.Sprintf("newpass%d", won))
	require.NoError(t, err)
	assert.Len(t, f.notifier.confirmations, 1)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice@x.com", "alice", "secret1")
	token := f.resetToken(t, "alice@x.com")

	f.clock.Advance(11 * time.Minute)
	err := f.auth.ResetPassword(context.Background(), token, "newpass1")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidResetToken)
}

func TestResetPasswordAfterEmailChange(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	token := f.resetToken(t, "alice@x.com")

	stored, err := f.users.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	newEmail := "alice@y.com"
	_, err = f.users.UpdateProfile(ctx, stored.ID, repository.ProfileUpdate{Email: &newEmail})
	require.NoError(t, err)

	err = f.auth.ResetPassword(ctx, token, "newpass1")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgResetTokenMismatch)
}

func TestResetPasswordRejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	login, err := f.auth.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	err = f.auth.ResetPassword(ctx, login.Token, "newpass1")
	requireKind(t, err, apperrors.KindInvalidOrExpired, MsgInvalidResetToken)
}

func TestResetPasswordConfirmationFailureIsNotFatal(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	token := f.resetToken(t, "alice@x.com")
	f.notifier.confirmErr = errors.New("mailbox full")

	require.NoError(t, f.auth.ResetPassword(ctx, token, "newpass1"))
	_, err := f.auth.Login(ctx, "alice@x.com", "newpass1")
	require.NoError(t, err)
}

func TestResetPasswordValidation(t *testing.T) {
	f := newAuthFixture(t)

	err := f.auth.ResetPassword(context.Background(), "", "123")
	appErr := requireKind(t, err, apperrors.KindValidation, MsgValidationFailed)
	assert.Contains(t, appErr.Details, "resetToken")
	assert.Contains(t, appErr.Details, "newPassword")
}

func TestAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	login, err := f.auth.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	p, err := f.auth.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, p.UserID.Hex())
	assert.True(t, p.HasRole(models.RoleUser, models.RoleAdmin))
	assert.False(t, p.HasRole(models.RoleAdmin))

	ghost, err := f.tokens.IssueAccess(primitive.NewObjectID().Hex())
	require.NoError(t, err)
	_, err = f.auth.Authenticate(ctx, ghost)
	requireKind(t, err, apperrors.KindUnauthorized, "Authentication Failed: User not found")

	_, err = f.auth.Authenticate(ctx, "garbage")
	requireKind(t, err, apperrors.KindUnauthorized, "")

	id, err := f.auth.VerifyAccessToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, id)
}

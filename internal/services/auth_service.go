package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/repository"
	"github.com/AnshRaj112/identity-backend/pkg/utils"
)

const (
	MsgEmailExists        = "Email already exists"
	MsgUsernameExists     = "Username already exists"
	MsgDefaultRoleMissing = "Default user role not found"
	MsgInvalidCredentials = "Invalid email or password"
	MsgForgotPassword     = "If an account with this email exists, you will receive a password reset OTP"
	MsgInvalidOTP         = "Invalid or expired OTP"
	MsgOTPVerified        = "OTP verified successfully"
	MsgInvalidResetToken  = "Invalid or expired reset token"
	MsgResetTokenMismatch = "Invalid reset token"
	MsgEmailUnavailable   = "Unable to send email at this time. Please try again later."
	MsgPasswordReset      = "Password reset successfully"
	MsgValidationFailed   = "Validation failed"

	EventNotify = "notify"
)

type AuthDeps struct {
	Users     UserStore
	Roles     RoleStore
	Hasher    PasswordHasher
	Tokens    *TokenIssuer
	Notifier  Notifier
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
	OTP       func() (string, error)
}

// AuthService owns the credential lifecycle: registration, login and the
// forgot/verify/reset password flow.
type AuthService struct {
	users     UserStore
	roles     RoleStore
	hasher    PasswordHasher
	tokens    *TokenIssuer
	notifier  Notifier
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
	otp       func() (string, error)
}

func NewAuthService(d AuthDeps) *AuthService {
	s := &AuthService{
		users:     d.Users,
		roles:     d.Roles,
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		notifier:  d.Notifier,
		publisher: d.Publisher,
		log:       d.Logger,
		now:       d.Now,
		otp:       d.OTP,
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = logging.Auth(s.log)
	if s.now == nil {
		s.now = time.Now
	}
	if s.otp == nil {
		s.otp = GenerateOTP
	}
	return s
}

type RegisterInput struct {
	Email          string
	Username       string
	Password       string
	ProfilePicture *string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.PublicUser, error) {
	email := utils.NormalizeEmail(in.Email)
	username := utils.NormalizeUsername(in.Username)

	if err := collectValidation(
		utils.ValidateEmail(email),
		utils.ValidateUsername(username),
		utils.ValidatePassword("password", in.Password),
	); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmailOrUsername(ctx, email, username, primitive.NilObjectID)
	switch {
	case err == nil:
		return nil, conflictFor(existing, email)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.Internal("Registration failed", err)
	}

	role, err := s.roles.FindByName(ctx, models.RoleUser)
	if err != nil {
		return nil, apperrors.Internal(MsgDefaultRoleMissing, err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, apperrors.Internal("Registration failed", err)
	}

	user := &models.User{
		Username:       username,
		Email:          email,
		PasswordHash:   hash,
		RoleID:         role.ID,
		ProfilePicture: in.ProfilePicture,
	}
	if err := s.users.Create(ctx, user); err != nil {
		var dup *repository.DuplicateKeyError
		if errors.As(err, &dup) {
			return nil, duplicateConflict(dup.Field)
		}
		return nil, apperrors.Internal("Registration failed", err)
	}

	s.log.InfoContext(ctx, "user registered", slog.String("user_id", user.ID.Hex()))
	return user.Public(role), nil
}

type LoginResult struct {
	User  *models.PublicUser `json:"user"`
	Token string             `json:"token"`
}

// Login fails with the same error whether the email is unknown or the
// password is wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = utils.NormalizeEmail(email)
	if err := collectValidation(utils.ValidateEmail(email), requiredField("password", password)); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.CompareDummy(ctx, password)
		s.log.WarnContext(ctx, "login failed")
		return nil, apperrors.Unauthorized(MsgInvalidCredentials)
	}
	if err != nil {
		return nil, apperrors.Internal("Login failed", err)
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, password)
	if err != nil {
		return nil, apperrors.Internal("Login failed", err)
	}
	if !ok {
		s.log.WarnContext(ctx, "login failed")
		return nil, apperrors.Unauthorized(MsgInvalidCredentials)
	}

	role, err := s.roles.FindByID(ctx, user.RoleID)
	if err != nil {
		return nil, apperrors.Internal("Login failed", fmt.Errorf("resolve role: %w", err))
	}

	token, err := s.tokens.IssueAccess(user.ID.Hex())
	if err != nil {
		return nil, apperrors.Internal("Login failed", err)
	}

	s.log.InfoContext(ctx, "login succeeded", slog.String("user_id", user.ID.Hex()))
	return &LoginResult{User: user.Public(role), Token: token}, nil
}

// ForgotPassword stores and mails a fresh OTP when the email is registered.
// The returned message is the same either way.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = utils.NormalizeEmail(email)
	if err := collectValidation(utils.ValidateEmail(email)); err != nil {
		return "", err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return MsgForgotPassword, nil
	}
	if err != nil {
		return "", apperrors.Internal("Failed to process request", err)
	}

	code, err := s.otp()
	if err != nil {
		return "", apperrors.Internal("Failed to process request", err)
	}
	otp := models.ResetOTP{Code: code, ExpiresAt: s.now().Add(OTPTTL).UTC()}
	if err := s.users.SetResetOTP(ctx, user.ID, otp); err != nil {
		return "", apperrors.Internal("Failed to process request", err)
	}

	if err := s.notifier.SendOTP(ctx, user.Email, code, user.DisplayName()); err != nil {
		if clearErr := s.users.ClearResetOTP(ctx, user.ID, code); clearErr != nil && !errors.Is(clearErr, repository.ErrNotFound) {
			s.log.ErrorContext(ctx, "failed to roll back reset otp", slog.String("user_id", user.ID.Hex()), slog.Any("error", clearErr))
		}
		return "", apperrors.Internal(MsgEmailUnavailable, err)
	}

	s.log.InfoContext(ctx, "reset otp issued", slog.String("user_id", user.ID.Hex()))
	return MsgForgotPassword, nil
}

type VerifyOTPResult struct {
	ResetToken string `json:"resetToken"`
	Message    string `json:"message"`
	ExpiresIn  string `json:"expiresIn"`
}

// VerifyOTP redeems a code at most once and exchanges it for a reset token.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (*VerifyOTPResult, error) {
	email = utils.NormalizeEmail(email)
	if err := collectValidation(utils.ValidateEmail(email), utils.ValidateOTP(code)); err != nil {
		return nil, err
	}

	user, err := s.users.ConsumeResetOTP(ctx, email, code, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		s.log.WarnContext(ctx, "otp verification failed")
		return nil, apperrors.InvalidOrExpired(MsgInvalidOTP)
	}
	if err != nil {
		return nil, apperrors.Internal("OTP verification failed", err)
	}

	token, err := s.tokens.IssueReset(user.ID.Hex(), user.Email, user.PasswordHash)
	if err != nil {
		return nil, apperrors.Internal("OTP verification failed", err)
	}

	return &VerifyOTPResult{
		ResetToken: token,
		Message:    MsgOTPVerified,
		ExpiresIn:  humanizeDuration(s.tokens.ResetTTL()),
	}, nil
}

// ResetPassword replaces the password of the token's subject. The token is
// refused once the account email or password hash has changed since issue.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := collectValidation(
		requiredField("resetToken", resetToken),
		utils.ValidatePassword("newPassword", newPassword),
	); err != nil {
		return err
	}

	claims, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		logging.Security(s.log).WarnContext(ctx, "reset token rejected", slog.Any("error", err))
		return apperrors.InvalidOrExpired(MsgInvalidResetToken)
	}

	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return apperrors.InvalidOrExpired(MsgResetTokenMismatch)
	}
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.InvalidOrExpired(MsgResetTokenMismatch)
	}
	if err != nil {
		return apperrors.Internal("Password reset failed", err)
	}
	if user.Email != claims.Email || !s.tokens.FingerprintMatches(claims.PasswordFingerprint, user.PasswordHash) {
		logging.Security(s.log).WarnContext(ctx, "stale reset token", slog.String("user_id", user.ID.Hex()))
		return apperrors.InvalidOrExpired(MsgResetTokenMismatch)
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return apperrors.Internal("Password reset failed", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, user.PasswordHash, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logging.Security(s.log).WarnContext(ctx, "reset token raced a password change", slog.String("user_id", user.ID.Hex()))
			return apperrors.InvalidOrExpired(MsgResetTokenMismatch)
		}
		return apperrors.Internal("Password reset failed", err)
	}
	s.log.InfoContext(ctx, "password reset", slog.String("user_id", user.ID.Hex()))

	if err := s.notifier.SendResetConfirmation(ctx, user.Email, user.DisplayName()); err != nil {
		s.log.WarnContext(ctx, "reset confirmation email failed", slog.String("user_id", user.ID.Hex()), slog.Any("error", err))
	}
	if err := s.publisher.PublishToUser(ctx, user.ID.Hex(), EventNotify, map[string]string{
		"type":    "password-reset",
		"message": MsgPasswordReset,
	}); err != nil {
		s.log.WarnContext(ctx, "reset notification failed", slog.String("user_id", user.ID.Hex()), slog.Any("error", err))
	}
	return nil
}

// VerifyAccessToken returns the identity id carried by a valid access token.
func (s *AuthService) VerifyAccessToken(token string) (string, error) {
	id, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return "", apperrors.Unauthorized("Authentication Failed: Invalid token")
	}
	return id, nil
}

// Principal is the authenticated caller.
type Principal struct {
	UserID primitive.ObjectID
	Role   models.RoleName
	User   *models.User
}

func (p *Principal) HasRole(roles ...models.RoleName) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Authenticate resolves an access token to a principal with its role.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Principal, error) {
	sub, err := s.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	id, err := primitive.ObjectIDFromHex(sub)
	if err != nil {
		return nil, apperrors.Unauthorized("Authentication Failed: Invalid token payload")
	}

	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		logging.Security(s.log).WarnContext(ctx, "token for unknown user", slog.String("user_id", sub))
		return nil, apperrors.Unauthorized("Authentication Failed: User not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Authentication failed", err)
	}

	role, err := s.roles.FindByID(ctx, user.RoleID)
	if err != nil {
		return nil, apperrors.Internal("Authentication failed", fmt.Errorf("resolve role: %w", err))
	}
	return &Principal{UserID: user.ID, Role: role.Name, User: user}, nil
}

// collectValidation merges field errors into one Validation error. Nil
// entries are skipped; non-field errors are returned as is.
func collectValidation(errs ...error) error {
	details := map[string]string{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ve *utils.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		if _, seen := details[ve.Field]; !seen {
			details[ve.Field] = ve.Message
		}
	}
	if len(details) == 0 {
		return nil
	}
	return apperrors.Validation(MsgValidationFailed, details)
}

func requiredField(field, value string) error {
	if value == "" {
		return &utils.ValidationError{Field: field, Message: field + " is required"}
	}
	return nil
}

// conflictFor reports email first when both fields collide.
func conflictFor(existing *models.User, email string) error {
	if existing.Email == email {
		return duplicateConflict("email")
	}
	return duplicateConflict("username")
}

func duplicateConflict(field string) error {
	if field == "username" {
		return apperrors.Conflict(MsgUsernameExists, map[string]string{"username": MsgUsernameExists})
	}
	return apperrors.Conflict(MsgEmailExists, map[string]string{"email": MsgEmailExists})
}

func humanizeDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}

package utils

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinUsernameLength = 2
	MaxUsernameLength = 30

	MaxEmailLength = 254

	MinPasswordLength = 6
	// bcrypt ignores input past 72 bytes
	MaxPasswordBytes = 72
)

var otpRegex = regexp.MustCompile(`^\d{6}$`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NormalizeUsername trims surrounding whitespace. Case is preserved.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// ValidateUsername checks a normalized username is 2-30 characters.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be between 2 and 30 characters"}
	}
	return nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized address is a bare addr-spec with a
// dotted domain and at most 254 characters.
func ValidateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "Email is required"}
	}
	if len(email) > MaxEmailLength {
		return &ValidationError{Field: "email", Message: "Email must not exceed 254 characters"}
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return &ValidationError{Field: "email", Message: "Please provide a valid email"}
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return &ValidationError{Field: "email", Message: "Please provide a valid email"}
	}
	return nil
}

// ValidatePassword enforces the minimum length and the bcrypt input limit.
func ValidatePassword(field, password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &ValidationError{Field: field, Message: "Password must be at least 6 characters long"}
	}
	if len(password) > MaxPasswordBytes {
		return &ValidationError{Field: field, Message: "Password must not exceed 72 bytes"}
	}
	return nil
}

// ValidateOTP checks the code is exactly six digits.
func ValidateOTP(code string) error {
	if !otpRegex.MatchString(code) {
		return &ValidationError{Field: "otp", Message: "OTP must be a 6-digit number"}
	}
	return nil
}

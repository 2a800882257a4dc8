package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess        = "access"
	TokenTypePasswordReset = "password-reset"

	DefaultAccessTokenTTL = 24 * time.Hour
	DefaultResetTokenTTL  = 10 * time.Minute
	DefaultTokenIssuer    = "identity-backend"
)

var (
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenSecretUnset = errors.New("token secrets must be set")
	ErrTokenSecretReuse = errors.New("access and reset token secrets must differ")
)

type TokenConfig struct {
	AccessSecret string
	ResetSecret  string
	AccessTTL    time.Duration
	ResetTTL     time.Duration
	Issuer       string
	Now          func() time.Time
}

// TokenIssuer signs and verifies the two HS256 token kinds. Each kind has its
// own secret so a token of one kind never verifies as the other.
type TokenIssuer struct {
	accessKey []byte
	resetKey  []byte
	accessTTL time.Duration
	resetTTL  time.Duration
	issuer    string
	now       func() time.Time
}

type accessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type resetClaims struct {
	Type                string `json:"type"`
	Email               string `json:"email"`
	PasswordFingerprint string `json:"pwf"`
	jwt.RegisteredClaims
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.ResetSecret == "" {
		return nil, ErrTokenSecretUnset
	}
	if cfg.AccessSecret == cfg.ResetSecret {
		return nil, ErrTokenSecretReuse
	}
	t := &TokenIssuer{
		accessKey: []byte(cfg.AccessSecret),
		resetKey:  []byte(cfg.ResetSecret),
		accessTTL: cfg.AccessTTL,
		resetTTL:  cfg.ResetTTL,
		issuer:    cfg.Issuer,
		now:       cfg.Now,
	}
	if t.accessTTL <= 0 {
		t.accessTTL = DefaultAccessTokenTTL
	}
	if t.resetTTL <= 0 {
		t.resetTTL = DefaultResetTokenTTL
	}
	if t.issuer == "" {
		t.issuer = DefaultTokenIssuer
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

func (t *TokenIssuer) ResetTTL() time.Duration { return t.resetTTL }

func (t *TokenIssuer) IssueAccess(userID string) (string, error) {
	now := t.now()
	claims := accessClaims{
		Type:             TokenTypeAccess,
		RegisteredClaims: t.registered(userID, now, t.accessTTL),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.accessKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return s, nil
}

// IssueReset binds the token to email and to the current password hash, so it
// stops verifying once either changes.
func (t *TokenIssuer) IssueReset(userID, email, passwordHash string) (string, error) {
	now := t.now()
	claims := resetClaims{
		Type:                TokenTypePasswordReset,
		Email:               email,
		PasswordFingerprint: t.Fingerprint(passwordHash),
		RegisteredClaims:    t.registered(userID, now, t.resetTTL),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.resetKey)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	return s, nil
}

// Fingerprint is a keyed digest of a password hash, safe to embed in a token.
func (t *TokenIssuer) Fingerprint(passwordHash string) string {
	mac := hmac.New(sha256.New, t.resetKey)
	mac.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:16])
}

// FingerprintMatches compares in constant time.
func (t *TokenIssuer) FingerprintMatches(fingerprint, passwordHash string) bool {
	return hmac.Equal([]byte(fingerprint), []byte(t.Fingerprint(passwordHash)))
}

func (t *TokenIssuer) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// Decoded is the result of Decode: DecodedAccess, DecodedReset or DecodedInvalid.
type Decoded interface {
	isDecoded()
}

type DecodedAccess struct {
	UserID    string
	ExpiresAt time.Time
}

type DecodedReset struct {
	UserID              string
	Email               string
	PasswordFingerprint string
	ExpiresAt           time.Time
}

type DecodedInvalid struct {
	Err error
}

func (DecodedAccess) isDecoded()  {}
func (DecodedReset) isDecoded()   {}
func (DecodedInvalid) isDecoded() {}

// Decode classifies a raw token. Anything that is not a well-formed, unexpired
// token of a known kind signed with that kind's key is DecodedInvalid.
func (t *TokenIssuer) Decode(raw string) Decoded {
	if d, err := t.parseAccess(raw); err == nil {
		return d
	}
	d, err := t.parseReset(raw)
	if err != nil {
		return DecodedInvalid{Err: err}
	}
	return d
}

// VerifyAccess returns the subject of a valid access token.
func (t *TokenIssuer) VerifyAccess(raw string) (string, error) {
	d, err := t.parseAccess(raw)
	if err != nil {
		return "", err
	}
	return d.UserID, nil
}

func (t *TokenIssuer) VerifyReset(raw string) (DecodedReset, error) {
	return t.parseReset(raw)
}

func (t *TokenIssuer) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
}

func (t *TokenIssuer) parseAccess(raw string) (DecodedAccess, error) {
	var claims accessClaims
	if _, err := t.parser().ParseWithClaims(raw, &claims, keyFunc(t.accessKey)); err != nil {
		return DecodedAccess{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Type != TokenTypeAccess || claims.Subject == "" {
		return DecodedAccess{}, ErrTokenInvalid
	}
	return DecodedAccess{UserID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (t *TokenIssuer) parseReset(raw string) (DecodedReset, error) {
	var claims resetClaims
	if _, err := t.parser().ParseWithClaims(raw, &claims, keyFunc(t.resetKey)); err != nil {
		return DecodedReset{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Type != TokenTypePasswordReset || claims.Subject == "" || claims.Email == "" || claims.PasswordFingerprint == "" {
		return DecodedReset{}, ErrTokenInvalid
	}
	return DecodedReset{
		UserID:              claims.Subject,
		Email:               claims.Email,
		PasswordFingerprint: claims.PasswordFingerprint,
		ExpiresAt:           claims.ExpiresAt.Time,
	}, nil
}

func keyFunc(key []byte) jwt.Keyfunc {
	return func(*jwt.Token) (interface{}, error) {
		return key, nil
	}
}

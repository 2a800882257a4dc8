// Package mailer delivers transactional email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var (
	ErrSendFailed    = errors.New("mailer: failed to send email")
	ErrInvalidConfig = errors.New("mailer: invalid config")
	ErrInvalidParams = errors.New("mailer: invalid message")
)

type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: To is required", ErrInvalidParams)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: To must be a valid email address", ErrInvalidParams)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: Subject is required", ErrInvalidParams)
	}
	if strings.TrimSpace(m.HTMLBody) == "" && strings.TrimSpace(m.TextBody) == "" {
		return fmt.Errorf("%w: a body is required", ErrInvalidParams)
	}
	return nil
}

// Mailer sends a single message. A nil error means the provider accepted it.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/AnshRaj112/identity-backend/internal/mailer"
)

//go:embed templates/*.html templates/*.txt
var emailTemplates embed.FS

// Notifier delivers password-reset emails. A nil error means delivered.
type Notifier interface {
	SendOTP(ctx context.Context, email, code, displayName string) error
	SendResetConfirmation(ctx context.Context, email, displayName string) error
}

type EmailNotifier struct {
	mailer mailer.Mailer
	html   *htmltemplate.Template
	text   *texttemplate.Template
}

func NewEmailNotifier(m mailer.Mailer) (*EmailNotifier, error) {
	html, err := htmltemplate.ParseFS(emailTemplates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	text, err := texttemplate.ParseFS(emailTemplates, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &EmailNotifier{mailer: m, html: html, text: text}, nil
}

type otpEmail struct {
	Name      string
	Code      string
	ExpiresIn string
}

type confirmationEmail struct {
	Name string
}

func (n *EmailNotifier) SendOTP(ctx context.Context, email, code, displayName string) error {
	data := otpEmail{Name: displayName, Code: code, ExpiresIn: humanizeDuration(OTPTTL)}
	return n.send(ctx, email, "Password Reset Code", "password-reset-otp", "reset_otp", data)
}

func (n *EmailNotifier) SendResetConfirmation(ctx context.Context, email, displayName string) error {
	data := confirmationEmail{Name: displayName}
	return n.send(ctx, email, "Password Reset Successful", "password-reset-confirmation", "reset_done", data)
}

func (n *EmailNotifier) send(ctx context.Context, to, subject, tag, tmpl string, data any) error {
	var html, text bytes.Buffer
	if err := n.html.ExecuteTemplate(&html, tmpl+".html", data); err != nil {
		return fmt.Errorf("render %s html: %w", tmpl, err)
	}
	if err := n.text.ExecuteTemplate(&text, tmpl+".txt", data); err != nil {
		return fmt.Errorf("render %s text: %w", tmpl, err)
	}
	return n.mailer.Send(ctx, mailer.Message{
		To:       to,
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: text.String(),
		Tag:      tag,
	})
}

package local

import (
	"context"
	"time"

	session "github.com/goliatone/go-session"
)

// PasswordResetNotice is handed to the Mailer when a reset is requested.
type PasswordResetNotice struct {
	ResetID   string
	Email     string
	ExpiresAt time.Time
}

// Mailer delivers password reset mails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, notice PasswordResetNotice) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, notice PasswordResetNotice) error

func (f MailerFunc) SendPasswordReset(ctx context.Context, notice PasswordResetNotice) error {
	return f(ctx, notice)
}

// LogMailer writes the reset link to the log instead of sending mail.
type LogMailer struct {
	Logger   session.Logger
	LinkPath string
}

func (m LogMailer) SendPasswordReset(ctx context.Context, notice PasswordResetNotice) error {
	if m.Logger == nil {
		return nil
	}
	path := m.LinkPath
	if path == "" {
		path = "/password-reset"
	}
	m.Logger.WithContext(ctx).Info("password reset requested",
		"to", notice.Email,
		"link", path+"?reset_id="+notice.ResetID,
		"expires_at", notice.ExpiresAt,
	)
	return nil
}

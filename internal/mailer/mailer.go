package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/meguriba/meguriba-backend/internal/config"
)

// Mailer delivers plain-text mail. Delivery is best-effort: callers log
// failures and never unwind committed state because of them.
type Mailer interface {
	Send(to, subject, body string) error
}

type smtpMailer struct {
	addr string
	auth smtp.Auth
	from string
}

type nopMailer struct{}

func (nopMailer) Send(string, string, string) error { return nil }

// New returns an SMTP mailer, or a no-op when SMTP_HOST is unset.
func New(cfg *config.Config) Mailer {
	if cfg.SMTPHost == "" {
		return nopMailer{}
	}
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return &smtpMailer{
		addr: cfg.SMTPHost + ":" + cfg.SMTPPort,
		auth: auth,
		from: cfg.MailFrom,
	}
}

func (m *smtpMailer) Send(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("recipient is empty")
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg))
}

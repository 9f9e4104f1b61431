package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/aegis-api/internal/config"
)

// VerificationMailer delivers account verification links.
type VerificationMailer interface {
	SendVerification(recipientEmail, fullName, organization, verifyURL string) error
}

// NewVerificationMailer returns an SMTP mailer when SMTP is configured and a
// log-only mailer otherwise.
func NewVerificationMailer(cfg config.EmailConfig, logger zerolog.Logger) (VerificationMailer, error) {
	if !cfg.Enabled() {
		logger.Warn().Msg("SMTP not configured; verification links will only be logged")
		return &LogMailer{logger: logger.With().Str("component", "mailer").Logger()}, nil
	}
	return NewSMTPMailer(cfg)
}

// SMTPMailer sends verification emails using an SMTP server.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPMailer(cfg config.EmailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}, nil
}

func (m *SMTPMailer) SendVerification(recipientEmail, fullName, organization, verifyURL string) error {
	message := []byte(verificationMessage(m.from, recipientEmail, fullName, organization, verifyURL))
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if strings.TrimSpace(m.username) != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{recipientEmail}, message)
}

func verificationMessage(from, to, fullName, organization, verifyURL string) string {
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		from, to, "Verify your Aegis account")

	name := strings.TrimSpace(fullName)
	if name == "" {
		name = "there"
	}

	body := strings.Builder{}
	body.WriteString(fmt.Sprintf("Hello %s,\n\n", name))
	body.WriteString(fmt.Sprintf("An Aegis workspace was created for %s with this address.\n", organization))
	body.WriteString("Confirm your email address to activate the account:\n\n")
	body.WriteString(verifyURL + "\n\n")
	body.WriteString("The link expires in 24 hours. If you did not sign up, you can ignore this email.\n\n")
	body.WriteString("Thanks,\nThe Aegis Team\n")

	return headers + body.String()
}

// LogMailer writes the verification link to the log instead of sending it.
type LogMailer struct {
	logger zerolog.Logger
}

func (m *LogMailer) SendVerification(recipientEmail, _, organization, verifyURL string) error {
	m.logger.Info().
		Str("email", recipientEmail).
		Str("organization", organization).
		Str("verify_url", verifyURL).
		Msg("Verification link issued")
	return nil
}

package notification

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aegis-api/internal/config"
)

func TestVerificationMessage(t *testing.T) {
	msg := verificationMessage("noreply@aegis.test", "ada@acme.test", "Ada", "Acme", "https://aegis.test/verify/abc")

	headers, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, headers, "To: ada@acme.test")
	assert.Contains(t, headers, "Subject: Verify your Aegis account")
	assert.Contains(t, body, "Hello Ada,")
	assert.Contains(t, body, "https://aegis.test/verify/abc")
}

func TestNewVerificationMailer(t *testing.T) {
	m, err := NewVerificationMailer(config.EmailConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)
	assert.NoError(t, m.SendVerification("a@b.test", "", "Org", "http://x"))

	m, err = NewVerificationMailer(config.EmailConfig{SMTPHost: "smtp.test", From: "noreply@aegis.test"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, m)

	_, err = NewVerificationMailer(config.EmailConfig{SMTPHost: "smtp.test"}, zerolog.Nop())
	assert.Error(t, err, "from address is required")
}

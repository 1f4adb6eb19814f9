package mail

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbghc/email-assistant/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturedSubmission struct {
	addr string
	from string
	to   []string
	body []byte
}

func newCapturingSender(t *testing.T) (*Sender, *capturedSubmission) {
	t.Helper()
	cfg := model.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     "465",
		Username: "assistant@example.com",
		From:     "assistant@example.com",
		TLS:      true,
	}
	s := NewSender(cfg, "secret", "admin@example.com", testLogger())

	captured := &capturedSubmission{}
	s.submit = func(addr string, _ sasl.Client, from string, to []string, r io.Reader) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		body, err := io.ReadAll(r)
		require.NoError(t, err)
		captured.body = body
		return nil
	}
	return s, captured
}

func TestSendComposesAndSubmits(t *testing.T) {
	s, captured := newCapturingSender(t)

	require.NoError(t, s.Send("Re: today", "all recorded, thanks", "alice@example.com"))

	assert.Equal(t, "smtp.example.com:465", captured.addr)
	assert.Equal(t, "assistant@example.com", captured.from)
	assert.Equal(t, []string{"alice@example.com"}, captured.to)

	raw := string(captured.body)
	assert.Contains(t, raw, "Subject: Re: today")
	assert.Contains(t, raw, "To: <alice@example.com>")
	assert.Contains(t, raw, "Message-Id:")
	assert.Contains(t, raw, "all recorded, thanks")
}

func TestSendDefaultsToAdmin(t *testing.T) {
	s, captured := newCapturingSender(t)

	require.NoError(t, s.Send("Daily reminder", "what did you get done today?", ""))
	assert.Equal(t, []string{"admin@example.com"}, captured.to)
}

func TestSendFailsWithoutAnyRecipient(t *testing.T) {
	s, _ := newCapturingSender(t)
	s.adminEmail = ""

	err := s.Send("subject", "body", "")
	assert.Error(t, err)
}

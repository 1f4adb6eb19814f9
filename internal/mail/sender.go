package mail

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/xbghc/email-assistant/internal/model"
)

// Sender submits outbound replies over SMTP. When no recipient is
// given, the configured administrator receives the message.
type Sender struct {
	cfg        model.SMTPConfig
	password   string
	adminEmail string
	logger     *slog.Logger

	// submit is swapped out in tests.
	submit func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error
}

// NewSender creates a sender for the given SMTP settings.
func NewSender(cfg model.SMTPConfig, password, adminEmail string, logger *slog.Logger) *Sender {
	s := &Sender{
		cfg:        cfg,
		password:   password,
		adminEmail: adminEmail,
		logger:     logger,
	}
	if cfg.TLS {
		s.submit = func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error {
			return smtp.SendMailTLS(addr, auth, from, to, r)
		}
	} else {
		s.submit = smtp.SendMail
	}
	return s
}

// Send submits one message. An empty recipient addresses the
// configured administrator.
func (s *Sender) Send(subject, body, to string) error {
	if to == "" {
		to = s.adminEmail
	}
	if to == "" {
		return fmt.Errorf("no recipient and no admin address configured")
	}

	msg, err := composeMessage(s.cfg.From, to, subject, body)
	if err != nil {
		return fmt.Errorf("composing message to %s: %w", to, err)
	}

	addr := s.cfg.Host + ":" + s.cfg.Port
	auth := sasl.NewPlainClient("", s.cfg.Username, s.password)

	if err := s.submit(addr, auth, s.cfg.From, []string{to}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("submitting message to %s via %s: %w", to, addr, err)
	}

	s.logger.Info("reply sent", "to", to, "subject", subject)
	return nil
}

// composeMessage assembles an RFC 5322 message with a plain-text body.
func composeMessage(from, to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}

	return buf.Bytes(), nil
}

package mail

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/jhillyerd/enmime"

	"github.com/xbghc/email-assistant/internal/model"
)

// parseFetched converts one fetched IMAP message into an
// IncomingMessage. Classification fields (Intent, UserID) are filled in
// later by the ingestor.
func parseFetched(
	buf *imapclient.FetchMessageBuffer,
	section *imap.FetchItemBodySection,
) (*model.IncomingMessage, error) {
	if buf == nil {
		return nil, fmt.Errorf("fetched message is nil")
	}

	msg := &model.IncomingMessage{}

	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		msg.ReceivedAt = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			msg.From = strings.ToLower(buf.Envelope.From[0].Addr())
		}
		for _, to := range buf.Envelope.To {
			msg.To = append(msg.To, strings.ToLower(to.Addr()))
		}
	}
	if msg.MessageID == "" {
		return nil, fmt.Errorf("message has no Message-Id header")
	}

	raw := buf.FindBodySection(section)
	if len(raw) > 0 {
		if err := parseBody(raw, msg); err != nil {
			// Headers alone are still usable; an unparseable body is
			// reported so the caller can log it.
			return msg, fmt.Errorf("parsing body of %s: %w", msg.MessageID, err)
		}
	}

	msg.IsReply = msg.InReplyTo != "" ||
		strings.HasPrefix(strings.ToLower(strings.TrimSpace(msg.Subject)), "re:")

	return msg, nil
}

// parseBody extracts the text body and reply-chain headers with enmime.
func parseBody(raw []byte, msg *model.IncomingMessage) error {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	body := strings.TrimSpace(env.Text)
	if body == "" && env.HTML != "" {
		body = strings.TrimSpace(stripTags(env.HTML))
	}
	msg.Body = body

	msg.InReplyTo = strings.TrimSpace(env.GetHeader("In-Reply-To"))
	if refs := env.GetHeader("References"); refs != "" {
		msg.References = strings.Fields(refs)
	}

	return nil
}

// stripTags is a crude HTML-to-text fallback for messages with no
// plain-text part.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ReplySubject composes the subject for a reply, stripping existing
// reply prefixes so repeated exchanges do not accumulate "Re: Re:".
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		if !strings.HasPrefix(lower, "re:") {
			break
		}
		s = strings.TrimSpace(s[3:])
	}
	if s == "" {
		s = "(no subject)"
	}
	return "Re: " + s
}

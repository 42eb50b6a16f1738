// Package compose builds outbound MIME messages from caller-supplied fields.
package compose

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/shineum/mailgate/internal/email"
)

// tagPattern matches one markup tag for the plain-text fallback. It is a
// naive strip, not an HTML parser.
var tagPattern = regexp.MustCompile(`<[^<]+?>`)

// StripTags removes every markup tag from html.
func StripTags(html string) string {
	return tagPattern.ReplaceAllString(html, "")
}

// Compose builds a message sent as sender. It fails with an InvalidInput
// error when the message has no body or an unusable address.
func Compose(sender string, msg email.OutboundMessage) (*email.Composed, error) {
	return composeAt(sender, msg, time.Now())
}

func composeAt(sender string, msg email.OutboundMessage, now time.Time) (*email.Composed, error) {
	if msg.Text == "" && msg.HTML == "" {
		return nil, invalid("Provide text or html body")
	}
	if len(msg.To) == 0 {
		return nil, invalid("At least one recipient is required")
	}

	from, err := mail.ParseAddress(sender)
	if err != nil {
		return nil, &email.Error{Kind: email.InvalidInput, Op: "invalid sender address", Err: err}
	}
	to, err := parseList("to", msg.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseList("cc", msg.Cc)
	if err != nil {
		return nil, err
	}

	var bcc []*mail.Address
	if msg.Bcc == nil {
		bcc = []*mail.Address{from}
	} else if bcc, err = parseList("bcc", msg.Bcc); err != nil {
		return nil, err
	}

	out := &email.Composed{
		From:      from.Address,
		To:        bare(to),
		Cc:        bare(cc),
		Bcc:       bare(bcc),
		Subject:   msg.Subject,
		MessageID: uuid.NewString() + "@" + domainOf(from.Address),
	}

	switch {
	case msg.Text != "" && msg.HTML != "":
		out.Text, out.HTML = msg.Text, msg.HTML
	case msg.HTML != "":
		out.Text, out.HTML = StripTags(msg.HTML), msg.HTML
	default:
		out.Text = msg.Text
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(msg.Subject)
	h.SetMessageID(out.MessageID)
	h.Set("MIME-Version", "1.0")

	raw, err := render(h, out.Text, out.HTML)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	out.Raw = raw

	return out, nil
}

// render writes the header and body. With an alternative part the body is
// multipart/alternative with text first; otherwise it is a single
// text/plain entity.
func render(h mail.Header, text, html string) ([]byte, error) {
	var buf bytes.Buffer

	if html == "" {
		setTextPart(&h.Header, "text/plain")
		w, err := message.CreateWriter(&buf, h.Header)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, text); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	h.SetContentType("multipart/alternative", nil)
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, err
	}
	for _, part := range []struct{ mediaType, body string }{
		{"text/plain", text},
		{"text/html", html},
	} {
		var ph message.Header
		setTextPart(&ph, part.mediaType)
		pw, err := w.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setTextPart(h *message.Header, mediaType string) {
	h.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
}

func parseList(field string, addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(strings.TrimSpace(a))
		if err != nil {
			return nil, &email.Error{
				Kind: email.InvalidInput,
				Op:   fmt.Sprintf("invalid %s address %q", field, a),
				Err:  err,
			}
		}
		out = append(out, parsed)
	}
	return out, nil
}

func bare(addrs []*mail.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return out
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

func invalid(msg string) error {
	return &email.Error{Kind: email.InvalidInput, Op: msg}
}

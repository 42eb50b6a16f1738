// Package parser extracts bodies and header summaries from RFC 5322
// messages fetched from a mailbox.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/mailgate/internal/email"
)

// noSubject is shown in listings for messages without a Subject header.
const noSubject = "(no subject)"

// Parse reads a full message and concatenates every text/plain part into
// the text body and every text/html part into the HTML body, in document
// order. Parts in unknown charsets are kept as-is; invalid UTF-8 is
// replaced with U+FFFD. Both bodies are whitespace-trimmed.
func Parse(raw []byte) (*email.FullMessage, error) {
	entity, err := readEntity(raw)
	if err != nil {
		return nil, err
	}

	text, html, err := extractBodies(entity)
	if err != nil {
		return nil, err
	}

	h := entity.Header
	return &email.FullMessage{
		Subject: DecodeHeader(h.Get("Subject")),
		From:    DecodeHeader(h.Get("From")),
		Date:    h.Get("Date"),
		Text:    text,
		HTML:    html,
	}, nil
}

// ParseReceived turns a message accepted over SMTP into a Composed value.
// Envelope recipients that appear in neither To nor Cc become Bcc.
func ParseReceived(raw []byte, mailFrom string, rcptTo []string) (*email.Composed, error) {
	entity, err := readEntity(raw)
	if err != nil {
		return nil, err
	}

	text, html, err := extractBodies(entity)
	if err != nil {
		return nil, err
	}

	h := mail.Header{Header: entity.Header}
	msg := &email.Composed{
		From:    mailFrom,
		To:      addressList(h, "To"),
		Cc:      addressList(h, "Cc"),
		Subject: DecodeHeader(h.Get("Subject")),
		Text:    text,
		HTML:    html,
		Raw:     raw,
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if msg.From == "" {
		if from := addressList(h, "From"); len(from) > 0 {
			msg.From = from[0]
		}
	}

	listed := make(map[string]struct{}, len(msg.To)+len(msg.Cc))
	for _, addr := range append(append([]string{}, msg.To...), msg.Cc...) {
		listed[strings.ToLower(addr)] = struct{}{}
	}
	for _, rcpt := range rcptTo {
		if _, ok := listed[strings.ToLower(rcpt)]; !ok {
			msg.Bcc = append(msg.Bcc, rcpt)
		}
	}
	if len(msg.To) == 0 && len(msg.Cc) == 0 {
		msg.To, msg.Bcc = msg.Bcc, nil
	}

	return msg, nil
}

// ParseHeader reads the header block returned by a header-only fetch.
// Subject and From are decoded; Date and Message-ID are kept verbatim.
func ParseHeader(raw []byte) (*email.HeaderSummary, error) {
	block := make([]byte, 0, len(raw)+4)
	block = append(block, bytes.TrimRight(raw, "\r\n")...)
	block = append(block, "\r\n\r\n"...)

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(block)))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	subject := noSubject
	if h.Has("Subject") {
		subject = DecodeHeader(h.Get("Subject"))
	}

	return &email.HeaderSummary{
		Subject:   subject,
		From:      DecodeHeader(h.Get("From")),
		Date:      h.Get("Date"),
		MessageID: h.Get("Message-Id"),
	}, nil
}

func readEntity(raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return entity, nil
}

// maxEmbedDepth bounds how many message/rfc822 levels are unwrapped.
const maxEmbedDepth = 5

func extractBodies(entity *message.Entity) (string, string, error) {
	var text, html strings.Builder
	if err := collectBodies(entity, &text, &html, 0); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(text.String()), strings.TrimSpace(html.String()), nil
}

// collectBodies appends every text/plain and text/html part of entity in
// document order. Attached messages (message/rfc822) are unwrapped and
// their parts collected in place.
func collectBodies(entity *message.Entity, text, html *strings.Builder, depth int) error {
	err := entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return err
		}

		mediaType := contentType(&part.Header)

		var dst *strings.Builder
		switch mediaType {
		case "text/plain":
			dst = text
		case "text/html":
			dst = html
		case "message/rfc822":
			if depth >= maxEmbedDepth {
				return nil
			}
			inner, readErr := message.Read(part.Body)
			if readErr != nil && !tolerable(readErr) {
				slog.Debug("skipping unreadable attached message", "path", path, "error", readErr)
				return nil
			}
			return collectBodies(inner, text, html, depth+1)
		default:
			return nil
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			slog.Debug("skipping unreadable part",
				"path", path,
				"content_type", mediaType,
				"error", readErr,
			)
			return nil
		}
		dst.WriteString(strings.ToValidUTF8(string(body), "\uFFFD"))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk message parts: %w", err)
	}
	return nil
}

// contentType returns the lowercased media type of a part. A missing
// header means text/plain. Malformed parameters do not hide the type: the
// value before the first ';' is used.
func contentType(h *message.Header) string {
	mediaType, _, err := h.ContentType()
	if err == nil {
		return mediaType
	}
	raw := h.Get("Content-Type")
	if raw == "" {
		return "text/plain"
	}
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// tolerable reports whether a go-message error still leaves a usable
// entity with its body undecoded.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func addressList(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

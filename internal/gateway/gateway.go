// Package gateway wires composition, transmission and mailbox access into
// the operations served over HTTP.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/mailgate/internal/compose"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/mailbox"
	"github.com/shineum/mailgate/internal/metrics"
	"github.com/shineum/mailgate/internal/provider"
)

// View is a caller-facing mailbox view.
type View string

const (
	ViewInbox View = "inbox"
	ViewSent  View = "sent"
)

// ParseView maps a query value to a View. The empty string is the inbox.
func ParseView(s string) (View, error) {
	switch View(s) {
	case "", ViewInbox:
		return ViewInbox, nil
	case ViewSent:
		return ViewSent, nil
	default:
		return "", &email.Error{Kind: email.InvalidInput, Op: fmt.Sprintf("unknown folder %q", s)}
	}
}

// Config holds the gateway settings.
type Config struct {
	// Sender is the fixed From address of every outbound message.
	Sender string

	InboxFolder string

	// SentFolder is a real sent-items folder. When empty the sent view
	// lists the inbox filtered to messages from Sender, which only finds
	// copies that came back to the inbox (the self Bcc).
	SentFolder string
}

// Gateway serves send, list and read requests. It holds no per-request
// state and is safe for concurrent use.
type Gateway struct {
	cfg      Config
	provider provider.Provider
	dialer   mailbox.Dialer
	logger   *slog.Logger
}

// New creates a Gateway.
func New(cfg Config, p provider.Provider, d mailbox.Dialer, logger *slog.Logger) *Gateway {
	if cfg.InboxFolder == "" {
		cfg.InboxFolder = "INBOX"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{cfg: cfg, provider: p, dialer: d, logger: logger}
}

// Send composes msg as the configured sender and transmits it once.
func (g *Gateway) Send(ctx context.Context, msg email.OutboundMessage) (*email.Composed, error) {
	start := time.Now()
	name := g.provider.Name()

	composed, err := compose.Compose(g.cfg.Sender, msg)
	if err != nil {
		metrics.RecordSend(name, "invalid", time.Since(start))
		return nil, err
	}

	if err := g.provider.Send(ctx, composed); err != nil {
		metrics.RecordSend(name, "failed", time.Since(start))
		g.logger.Error("send failed",
			"provider", name,
			"recipients", len(composed.Recipients()),
			"error", err,
		)
		return nil, err
	}

	metrics.RecordSend(name, "ok", time.Since(start))
	g.logger.Info("message sent",
		"provider", name,
		"message_id", composed.MessageID,
		"recipients", len(composed.Recipients()),
	)
	return composed, nil
}

// List returns up to limit header summaries for view, newest first.
func (g *Gateway) List(ctx context.Context, view View, limit int) (*email.Listing, error) {
	if limit <= 0 {
		return nil, &email.Error{Kind: email.InvalidInput, Op: "limit must be positive"}
	}

	folder, from := g.cfg.InboxFolder, ""
	if view == ViewSent {
		if g.cfg.SentFolder != "" {
			folder = g.cfg.SentFolder
		} else {
			from = g.cfg.Sender
		}
	}

	start := time.Now()
	listing, err := withSession(ctx, g, func(s *mailbox.Session) (*email.Listing, error) {
		return s.ListHeaders(ctx, folder, limit, from)
	})
	if err != nil {
		metrics.RecordMailboxOp("list", "failed", time.Since(start))
		g.logger.Error("listing failed", "view", view, "folder", folder, "error", err)
		return nil, err
	}

	metrics.RecordMailboxOp("list", "ok", time.Since(start))
	metrics.RecordListing(string(view), len(listing.Messages), listing.Skipped)
	if listing.Skipped > 0 {
		g.logger.Warn("listing incomplete",
			"view", view,
			"requested", listing.Requested,
			"skipped", listing.Skipped,
		)
	}
	return listing, nil
}

// Read fetches the message with UID id from the inbox folder.
func (g *Gateway) Read(ctx context.Context, id string) (*email.FullMessage, error) {
	start := time.Now()
	msg, err := withSession(ctx, g, func(s *mailbox.Session) (*email.FullMessage, error) {
		return s.ReadMessage(ctx, g.cfg.InboxFolder, id)
	})
	if err != nil {
		metrics.RecordMailboxOp("read", "failed", time.Since(start))
		if email.KindOf(err) != email.NotFound {
			g.logger.Error("read failed", "id", id, "error", err)
		}
		return nil, err
	}
	metrics.RecordMailboxOp("read", "ok", time.Since(start))
	return msg, nil
}

// withSession opens a single-use session, runs fn and always closes it.
func withSession[T any](ctx context.Context, g *Gateway, fn func(*mailbox.Session) (T, error)) (T, error) {
	s, err := mailbox.Open(ctx, g.dialer, g.logger)
	if err != nil {
		var zero T
		return zero, err
	}
	defer s.Close()
	return fn(s)
}

// Package relay implements a Provider that submits mail to an SMTP relay
// over STARTTLS with PLAIN authentication.
package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/shineum/mailgate/internal/email"
)

// defaultTimeout bounds the dial and the whole SMTP conversation.
const defaultTimeout = 30 * time.Second

// Config holds the relay connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Timeout bounds both the dial and the full session. Zero means 30s.
	Timeout time.Duration

	// TLSConfig overrides the STARTTLS client configuration. When nil the
	// system roots are used and the server name is Host.
	TLSConfig *tls.Config

	Logger *slog.Logger
}

// Provider sends each message in its own relay session.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a relay Provider.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// Send opens a session, upgrades it with STARTTLS, authenticates and
// transmits msg. The connection is closed on every path.
func (p *Provider) Send(ctx context.Context, msg *email.Composed) error {
	if err := p.send(ctx, msg); err != nil {
		return &email.Error{Kind: email.TransportFailure, Op: "SMTP send failed", Err: err}
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

func (p *Provider) send(ctx context.Context, msg *email.Composed) error {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))

	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(p.cfg.Timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(p.tlsConfig()); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}

	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data: %w", err)
	}

	// The relay has accepted the message at this point.
	if err := client.Quit(); err != nil {
		p.logger.Warn("SMTP quit failed after message was accepted",
			"host", p.cfg.Host,
			"error", err,
		)
	}

	return nil
}

func (p *Provider) tlsConfig() *tls.Config {
	if p.cfg.TLSConfig == nil {
		return &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}
	}
	cfg := p.cfg.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = p.cfg.Host
	}
	return cfg
}

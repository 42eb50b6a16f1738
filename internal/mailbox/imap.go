package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/shineum/mailgate/internal/email"
)

// summaryFields are the header fields fetched for a listing row.
var summaryFields = []string{"Subject", "From", "Date", "Message-ID"}

// IMAPConfig holds the IMAPS connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialTimeout bounds the TCP and TLS handshake. OpTimeout is the
	// deadline for the whole session once connected.
	DialTimeout time.Duration
	OpTimeout   time.Duration

	// TLSConfig overrides the client TLS configuration. ServerName
	// defaults to Host.
	TLSConfig *tls.Config
}

// IMAPDialer opens implicit-TLS IMAP sessions.
type IMAPDialer struct {
	cfg IMAPConfig
}

// NewIMAPDialer creates an IMAPDialer. Zero timeouts default to 30s for
// the dial and 60s for operations.
func NewIMAPDialer(cfg IMAPConfig) *IMAPDialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 60 * time.Second
	}
	return &IMAPDialer{cfg: cfg}
}

// Dial connects and logs in. Any failure up to and including LOGIN is
// an AuthFailure.
func (d *IMAPDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, &email.Error{Kind: email.AuthFailure, Op: "IMAP login failed", Err: err}
	}
	return conn, nil
}

func (d *IMAPDialer) dial(ctx context.Context) (*imapConn, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	tlsConfig := &tls.Config{ServerName: d.cfg.Host, MinVersion: tls.VersionTLS12}
	if d.cfg.TLSConfig != nil {
		tlsConfig = d.cfg.TLSConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = d.cfg.Host
		}
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.cfg.DialTimeout},
		Config:    tlsConfig,
	}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	if err := netConn.SetDeadline(time.Now().Add(d.cfg.OpTimeout)); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	client := imapclient.New(netConn, nil)
	if err := client.Login(d.cfg.Username, d.cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("authentication failed for %s: %w", d.cfg.Username, err)
	}
	return &imapConn{client: client}, nil
}

// imapConn adapts an imapclient.Client to Conn.
type imapConn struct {
	client *imapclient.Client
}

func (c *imapConn) Select(folder string, readOnly bool) error {
	_, err := c.client.Select(folder, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	return err
}

func (c *imapConn) Search(from string) ([]uint32, error) {
	criteria := &imap.SearchCriteria{}
	if from != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{{Key: "From", Value: from}}
	}

	data, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}

	uids := data.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	slices.Sort(out)
	return out, nil
}

func (c *imapConn) FetchHeader(uid uint32) ([]byte, int64, error) {
	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: summaryFields,
		Peek:         true,
	}
	buf, err := c.fetchOne(uid, &imap.FetchOptions{
		UID:         true,
		RFC822Size:  true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return nil, 0, err
	}
	return buf.FindBodySection(section), buf.RFC822Size, nil
}

// FetchMessage uses a non-peek BODY[] fetch, so the server marks the
// message \Seen.
func (c *imapConn) FetchMessage(uid uint32) ([]byte, error) {
	section := &imap.FetchItemBodySection{}
	buf, err := c.fetchOne(uid, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return nil, err
	}
	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, ErrNoMessage
	}
	return raw, nil
}

func (c *imapConn) fetchOne(uid uint32, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	msgs, err := c.client.Fetch(imap.UIDSetNum(imap.UID(uid)), opts).Collect()
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessage
	}
	return msgs[0], nil
}

func (c *imapConn) Close() error {
	logoutErr := c.client.Logout().Wait()
	if err := c.client.Close(); err != nil {
		return err
	}
	return logoutErr
}

// Package mailbox lists and reads messages in the inbound store over IMAP.
// A Session is single-use: open it, run one list or read, close it.
package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/parser"
)

// ErrNoMessage is returned by a Conn when the store has no data for a UID.
var ErrNoMessage = errors.New("no such message")

// Conn is an authenticated store connection.
type Conn interface {
	Select(folder string, readOnly bool) error
	// Search returns the UIDs whose From contains from, ascending. An empty
	// from matches every message.
	Search(from string) ([]uint32, error)
	FetchHeader(uid uint32) ([]byte, int64, error)
	FetchMessage(uid uint32) ([]byte, error)
	Close() error
}

// Dialer opens authenticated connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Session owns one store connection.
type Session struct {
	conn   Conn
	logger *slog.Logger
}

// Open connects and authenticates through d.
func Open(ctx context.Context, d Dialer, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := d.Dial(ctx)
	if err != nil {
		if email.KindOf(err) == email.KindUnknown {
			err = &email.Error{Kind: email.AuthFailure, Op: "IMAP login failed", Err: err}
		}
		return nil, err
	}
	return &Session{conn: conn, logger: logger}, nil
}

// Select opens folder. Read-only selection never changes flags.
func (s *Session) Select(folder string, readOnly bool) error {
	if err := s.conn.Select(folder, readOnly); err != nil {
		return &email.Error{Kind: email.FolderFailure, Op: "IMAP select failed", Err: err}
	}
	return nil
}

// ListHeaders returns summaries of up to limit of the newest messages in
// folder, newest first, optionally restricted to senders containing from.
//
// The result is best effort: a message whose header fetch fails or comes
// back empty is left out and counted in Listing.Skipped.
func (s *Session) ListHeaders(ctx context.Context, folder string, limit int, from string) (*email.Listing, error) {
	if err := s.Select(folder, true); err != nil {
		return nil, err
	}

	uids, err := s.conn.Search(from)
	if err != nil {
		return nil, &email.Error{Kind: email.FetchFailure, Op: "IMAP fetch failed", Err: err}
	}

	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	listing := &email.Listing{
		Messages:  make([]email.HeaderSummary, 0, len(uids)),
		Requested: len(uids),
	}
	for i := len(uids) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, &email.Error{Kind: email.FetchFailure, Op: "IMAP fetch failed", Err: err}
		}

		uid := uids[i]
		summary, err := s.summary(uid)
		if err != nil {
			s.logger.Debug("skipping message in listing",
				"folder", folder,
				"uid", uid,
				"error", err,
			)
			listing.Skipped++
			continue
		}
		listing.Messages = append(listing.Messages, *summary)
	}

	return listing, nil
}

func (s *Session) summary(uid uint32) (*email.HeaderSummary, error) {
	raw, size, err := s.conn.FetchHeader(uid)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNoMessage
	}

	summary, err := parser.ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	summary.UID = strconv.FormatUint(uint64(uid), 10)
	summary.Size = size
	return summary, nil
}

// ReadMessage fetches and parses the message with the given UID from
// folder. The folder is opened read-write so the message becomes \Seen.
func (s *Session) ReadMessage(ctx context.Context, folder, id string) (*email.FullMessage, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return nil, &email.Error{Kind: email.NotFound, Op: "Message not found"}
	}

	if err := s.Select(folder, false); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &email.Error{Kind: email.FetchFailure, Op: "IMAP read failed", Err: err}
	}

	raw, err := s.conn.FetchMessage(uint32(uid))
	switch {
	case errors.Is(err, ErrNoMessage), err == nil && len(raw) == 0:
		return nil, &email.Error{Kind: email.NotFound, Op: "Message not found"}
	case err != nil:
		return nil, &email.Error{Kind: email.FetchFailure, Op: "IMAP read failed", Err: err}
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		return nil, &email.Error{Kind: email.FetchFailure, Op: "IMAP read failed", Err: err}
	}
	return msg, nil
}

// Close logs out and closes the connection. A failure is only logged:
// the operation it followed has already produced its result.
func (s *Session) Close() {
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("IMAP logout failed", "error", err)
	}
}

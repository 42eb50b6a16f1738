// Package mbox implements a Provider that appends composed messages to a
// local mbox file.
package mbox

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/shineum/mailgate/internal/email"
)

// Provider appends each message to the mbox file at path.
type Provider struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates an mbox Provider. The file is created on first send.
func New(path string) *Provider {
	return &Provider{path: path, now: time.Now}
}

// Send appends msg.Raw as one mbox entry, with the sender on the From_
// line.
func (p *Provider) Send(_ context.Context, msg *email.Composed) error {
	if err := p.append(msg); err != nil {
		return &email.Error{Kind: email.TransportFailure, Op: "mbox write failed", Err: err}
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mbox"
}

func (p *Provider) append(msg *email.Composed) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.path, err)
	}
	defer f.Close()

	mw := mbox.NewWriter(f)
	w, err := mw.CreateMessage(msg.From, p.now())
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close entry: %w", err)
	}
	return f.Sync()
}

// Package provider defines the interface for outbound mail transports.
package provider

import (
	"context"

	"github.com/shineum/mailgate/internal/email"
)

// Provider is the interface that outbound transports must implement.
// Each provider makes exactly one delivery attempt per Send call.
type Provider interface {
	// Send delivers a composed message to every envelope recipient.
	// Failures are reported as *email.Error with Kind TransportFailure.
	Send(ctx context.Context, msg *email.Composed) error

	// Name returns the human-readable name of this provider.
	Name() string
}

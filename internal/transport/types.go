// Package transport defines the outbound delivery boundary of the pipeline.
package transport

import (
	"context"
	"errors"

	"procnotify/internal/format"
)

// ErrNoDestination is returned when no webhook URL is configured.
var ErrNoDestination = errors.New("no destination url set")

// Sender posts one rendered payload to a destination.
//
// A nil error means the destination acknowledged the payload. Implementations
// must not retry; the pipeline drops failed batches.
type Sender interface {
	Send(ctx context.Context, url string, p format.Payload) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, url string, p format.Payload) error

func (f SenderFunc) Send(ctx context.Context, url string, p format.Payload) error {
	return f(ctx, url, p)
}

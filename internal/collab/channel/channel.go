// Package channel provides the message channel a collaboration session
// talks over. A Channel moves whole frames; framing and transport details
// stay behind the interface.
package channel

import (
	"context"
	"errors"
	"net/http"
)

// Standard errors returned by channels.
var (
	// ErrClosed indicates the channel was closed locally or by the peer.
	ErrClosed = errors.New("channel closed")

	// ErrUnauthorized indicates the endpoint refused the credentials
	// during the transport handshake.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the endpoint does not exist.
	ErrNotFound = errors.New("endpoint not found")
)

// Channel is a bidirectional, ordered frame stream.
type Channel interface {
	// Send writes one frame. It does not wait for the peer.
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until a frame arrives, the context ends or the
	// channel closes.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string, header http.Header) (Channel, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint string, header http.Header) (Channel, error) {
	return f(ctx, endpoint, header)
}

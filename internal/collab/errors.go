package collab

import (
	"errors"
	"fmt"
)

// Standard errors returned by the session.
var (
	// ErrAuthFailure indicates the server rejected the credentials. The
	// session is closed and no retry is attempted.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrNotFound indicates the organization or document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrNetwork indicates a transient transport failure. The session
	// retries in the background.
	ErrNetwork = errors.New("network error")

	// ErrProtocol indicates a sequence or snapshot mismatch. It forces a
	// full snapshot refetch.
	ErrProtocol = errors.New("protocol error")

	// ErrClosed indicates the session was closed by a disconnect request.
	ErrClosed = errors.New("session closed")

	// ErrAlreadyConnected indicates a connect request while one is active.
	ErrAlreadyConnected = errors.New("session already connecting or connected")

	// ErrInvalidCredentials indicates incomplete connect parameters.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ConnectError reports a failed connect attempt.
type ConnectError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProtocolError describes a sequence or snapshot mismatch.
type ProtocolError struct {
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Unwrap returns ErrProtocol.
func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// networkError wraps a transport failure so it matches ErrNetwork.
type networkError struct {
	err error
}

func (e *networkError) Error() string {
	return fmt.Sprintf("network error: %v", e.err)
}

func (e *networkError) Unwrap() []error {
	return []error{ErrNetwork, e.err}
}

package protocol

import (
	"errors"
	"fmt"
)

// Standard errors returned by the codec.
var (
	// ErrMalformedOperation indicates a wire operation failed validation.
	ErrMalformedOperation = errors.New("malformed operation")

	// ErrMalformedFrame indicates a frame that is not a valid envelope.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType indicates an envelope with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
)

// MalformedError describes one invalid field of a wire operation.
type MalformedError struct {
	Index  int
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("operation %d: field %q %s", e.Index, e.Field, e.Reason)
}

// Unwrap returns ErrMalformedOperation.
func (e *MalformedError) Unwrap() error {
	return ErrMalformedOperation
}

// FrameError describes an invalid envelope.
type FrameError struct {
	Type   Type
	Reason string
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("frame: %s", e.Reason)
	}
	return fmt.Sprintf("%s frame: %s", e.Type, e.Reason)
}

// Unwrap returns ErrMalformedFrame.
func (e *FrameError) Unwrap() error {
	return ErrMalformedFrame
}

// Code classifies a server-reported error.
type Code string

// Error codes sent by the server.
const (
	CodeAuth     Code = "auth"
	CodeNotFound Code = "not_found"
	CodeProtocol Code = "protocol"
	CodeInternal Code = "internal"
)

// ServerError is an error frame sent by the server.
type ServerError struct {
	Code    Code
	Message string
}

// Type implements Message.
func (*ServerError) Type() Type { return TypeError }

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

package ot

import (
	"errors"
	"fmt"

	"github.com/dshills/foldtext/internal/coords"
)

// ErrOutOfRange indicates an operation references text outside the
// current bounds.
var ErrOutOfRange = errors.New("operation out of range")

// RangeError reports an operation range that does not fit the text.
type RangeError struct {
	Range coords.NativeRange
	Len   int
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("range %s outside text of length %d", e.Range, e.Len)
}

// Unwrap returns ErrOutOfRange.
func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

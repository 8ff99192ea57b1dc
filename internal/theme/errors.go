package theme

import (
	"errors"
	"fmt"
)

// ErrNoSpacingFunction indicates a Lua theme without block_spacing.
var ErrNoSpacingFunction = errors.New("theme script does not define block_spacing")

// ParseError reports a theme file that could not be decoded.
type ParseError struct {
	Source string
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse theme %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

package document

import (
	"errors"
	"fmt"

	"github.com/dshills/foldtext/internal/ot"
)

// ErrOutOfRangeOperation indicates an operation references text outside
// the current document bounds. Such operations are never applied.
var ErrOutOfRangeOperation = errors.New("operation out of range")

// OperationError reports an operation rejected by Apply.
type OperationError struct {
	Op  ot.Operation
	Len int
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("apply %s: document length is %d", e.Op, e.Len)
}

// Unwrap returns ErrOutOfRangeOperation.
func (e *OperationError) Unwrap() error {
	return ErrOutOfRangeOperation
}

// PartitionError describes a broken block partition. It is only ever
// raised through a panic: a broken partition is a bug, not input.
type PartitionError struct {
	Index  int
	Reason string
}

// Error implements the error interface.
func (e *PartitionError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

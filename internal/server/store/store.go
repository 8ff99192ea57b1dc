// Package store persists relay documents: the latest text with its
// sequence number, and the log of sequenced operations that produced it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/foldtext/internal/ot"
)

// Standard errors returned by stores.
var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrExists indicates Create found an existing document.
	ErrExists = errors.New("document already exists")

	// ErrSequence indicates Append was called with operations that do not
	// continue the stored sequence.
	ErrSequence = errors.New("operation sequence mismatch")
)

// Key identifies a document.
type Key struct {
	Org string
	Doc string
}

// String returns "org/doc".
func (k Key) String() string {
	return k.Org + "/" + k.Doc
}

// Document is a stored snapshot.
type Document struct {
	Text      string
	Seq       uint64
	UpdatedAt time.Time
}

// Store persists documents. Implementations are safe for concurrent use.
type Store interface {
	// Create adds a document at sequence zero.
	Create(ctx context.Context, key Key, text string) error

	// Get returns the latest snapshot or ErrNotFound.
	Get(ctx context.Context, key Key) (*Document, error)

	// Append records ops, whose Seq values must run consecutively from the
	// stored Seq+1, together with the text they produce.
	Append(ctx context.Context, key Key, ops []ot.Operation, text string) error

	// Ops returns the logged operations with Seq greater than after, in
	// order.
	Ops(ctx context.Context, key Key, after uint64) ([]ot.Operation, error)

	// Close releases the store.
	Close() error
}

// checkAppend verifies that ops continue from seq.
func checkAppend(key Key, seq uint64, ops []ot.Operation) error {
	for i, op := range ops {
		if want := seq + uint64(i) + 1; op.Seq != want {
			return fmt.Errorf("%s: operation %d has seq %d, expected %d: %w", key, i, op.Seq, want, ErrSequence)
		}
	}
	return nil
}

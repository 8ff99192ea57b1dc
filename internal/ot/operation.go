package ot

import (
	"fmt"
	"unicode/utf8"

	"github.com/dshills/foldtext/internal/coords"
)

// Origin identifies where an operation was generated.
// The empty origin and Local both mean this client.
type Origin string

// Local is the origin of operations generated by this client.
const Local Origin = "local"

// IsLocal returns true if the origin is this client.
func (o Origin) IsLocal() bool {
	return o == "" || o == Local
}

// String returns the origin name.
func (o Origin) String() string {
	if o.IsLocal() {
		return string(Local)
	}
	return string(o)
}

// Operation replaces a native range with new text. It is the unit of local
// application and network exchange. Seq is the session sequence number the
// operation was generated against (local) or assigned by the server (remote).
type Operation struct {
	Origin Origin
	Seq    uint64
	Range  coords.NativeRange
	Text   string
}

// NewReplace creates a local replace operation.
func NewReplace(r coords.NativeRange, text string) Operation {
	return Operation{Origin: Local, Range: r, Text: text}
}

// NewInsert creates a local insert operation.
func NewInsert(offset int, text string) Operation {
	return Operation{Origin: Local, Range: coords.NativeCaret(offset), Text: text}
}

// NewDelete creates a local delete operation.
func NewDelete(start, end int) Operation {
	return Operation{Origin: Local, Range: coords.Native(start, end)}
}

// TextLen returns the replacement length in code points.
func (op Operation) TextLen() int {
	return utf8.RuneCountInString(op.Text)
}

// Delta returns the change in text length caused by the operation.
func (op Operation) Delta() int {
	return op.TextLen() - op.Range.Len()
}

// NewRange returns the range occupied by the replacement text once applied.
func (op Operation) NewRange() coords.NativeRange {
	return coords.Native(op.Range.Start, op.Range.Start+op.TextLen())
}

// IsNoOp returns true if applying the operation changes nothing.
func (op Operation) IsNoOp() bool {
	return op.Range.IsEmpty() && op.Text == ""
}

// IsInsert returns true if this is a pure insertion.
func (op Operation) IsInsert() bool {
	return op.Range.IsEmpty() && op.Text != ""
}

// IsDelete returns true if this is a pure deletion.
func (op Operation) IsDelete() bool {
	return !op.Range.IsEmpty() && op.Text == ""
}

// WithOrigin returns a copy of op with a different origin.
func (op Operation) WithOrigin(o Origin) Operation {
	op.Origin = o
	return op
}

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch {
	case op.IsInsert():
		return fmt.Sprintf("Insert(%d, %q)@%s#%d", op.Range.Start, op.Text, op.Origin, op.Seq)
	case op.IsDelete():
		return fmt.Sprintf("Delete%s@%s#%d", op.Range, op.Origin, op.Seq)
	default:
		return fmt.Sprintf("Replace%s with %q@%s#%d", op.Range, op.Text, op.Origin, op.Seq)
	}
}

// Validate checks the operation's range against a text of length n.
func (op Operation) Validate(n int) error {
	if op.Range.Start < 0 || op.Range.End < op.Range.Start || op.Range.End > n {
		return &RangeError{Range: op.Range, Len: n}
	}
	return nil
}

// Apply returns text with op applied. The input slice is not modified.
func Apply(text []rune, op Operation) ([]rune, error) {
	if err := op.Validate(len(text)); err != nil {
		return nil, err
	}
	ins := []rune(op.Text)
	out := make([]rune, 0, len(text)+len(ins)-op.Range.Len())
	out = append(out, text[:op.Range.Start]...)
	out = append(out, ins...)
	out = append(out, text[op.Range.End:]...)
	return out, nil
}

// ApplyAll applies ops in order, each against the result of its predecessor.
func ApplyAll(text []rune, ops []Operation) ([]rune, error) {
	out := text
	for i, op := range ops {
		next, err := Apply(out, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out = next
	}
	return out, nil
}

// ApplyAllClamped applies ops in order, clamping each into the text it is
// applied to, and returns the result along with the operations as actually
// applied. The same inputs always produce the same outputs, which lets two
// replicas holding the same text agree on edits that were rebased past
// conflicting changes.
func ApplyAllClamped(text []rune, ops []Operation) ([]rune, []Operation) {
	out := text
	applied := make([]Operation, 0, len(ops))
	for _, op := range ops {
		op.Range = op.Range.Clamp(len(out))
		out, _ = Apply(out, op)
		applied = append(applied, op)
	}
	return out, applied
}

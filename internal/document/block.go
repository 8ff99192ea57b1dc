package document

import (
	"fmt"

	"github.com/dshills/foldtext/internal/coords"
)

// Kind identifies the type of a block.
type Kind uint8

const (
	// Paragraph is a plain line of text, including blank lines.
	Paragraph Kind = iota

	// Heading is an ATX heading; Level is the number of '#' characters.
	Heading

	// ListItem is a bullet or ordered list line; Level is the indent depth.
	ListItem

	// Quote is a blockquote line; Level is the number of '>' markers.
	Quote

	// CodeFence spans an opening fence through its closing fence, or to the
	// end of the document when unterminated.
	CodeFence

	// ThematicBreak is a horizontal rule line.
	ThematicBreak
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Paragraph:
		return "paragraph"
	case Heading:
		return "heading"
	case ListItem:
		return "list-item"
	case Quote:
		return "quote"
	case CodeFence:
		return "code-fence"
	case ThematicBreak:
		return "thematic-break"
	default:
		return "unknown"
	}
}

// Block is a contiguous run of whole lines with a kind tag. The range
// includes the trailing newline when there is one.
type Block struct {
	Kind  Kind
	Range coords.NativeRange

	// Level is the heading level, list indent depth or quote depth.
	Level int

	// Ordered is set for numbered list items.
	Ordered bool

	// Foldable holds the block's syntax runs, sorted and disjoint.
	Foldable []coords.NativeRange
}

// String returns a human-readable representation of the block.
func (b Block) String() string {
	return fmt.Sprintf("%s(%d)%s", b.Kind, b.Level, b.Range)
}

// Contains returns true if the native index lies inside the block.
func (b Block) Contains(i int) bool {
	return b.Range.Contains(i)
}

// Equal reports whether two blocks are identical.
func (b Block) Equal(o Block) bool {
	if b.Kind != o.Kind || b.Range != o.Range || b.Level != o.Level || b.Ordered != o.Ordered {
		return false
	}
	if len(b.Foldable) != len(o.Foldable) {
		return false
	}
	for i := range b.Foldable {
		if b.Foldable[i] != o.Foldable[i] {
			return false
		}
	}
	return true
}

func (b Block) shifted(delta int) Block {
	if delta == 0 {
		return b
	}
	out := b
	out.Range = b.Range.Shift(delta)
	if len(b.Foldable) > 0 {
		out.Foldable = make([]coords.NativeRange, len(b.Foldable))
		for i, r := range b.Foldable {
			out.Foldable[i] = r.Shift(delta)
		}
	}
	return out
}

package document

import (
	"sort"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/ot"
)

// Result describes the effect of one applied operation.
type Result struct {
	// Blocks are the blocks produced by the reparse, in document order.
	Blocks []Block

	// First is the index of Blocks[0] in the full block list.
	First int

	// Affected is the native range, in post-edit coordinates, covered by
	// the reparsed blocks.
	Affected coords.NativeRange

	// Delta is the change in document length.
	Delta int
}

// Model owns the native text and its block parse. It is not safe for
// concurrent use; the editor serializes access.
type Model struct {
	text   []rune
	blocks []Block
}

// New creates a model holding text.
func New(text string) *Model {
	m := &Model{}
	m.Reset(text)
	return m
}

// Reset replaces the whole text and reparses it.
func (m *Model) Reset(text string) []Block {
	m.text = []rune(text)
	return m.Parse()
}

// Text returns the native text.
func (m *Model) Text() string {
	return string(m.text)
}

// Runes returns a copy of the native text as code points.
func (m *Model) Runes() []rune {
	return append([]rune(nil), m.text...)
}

// Len returns the text length in code points.
func (m *Model) Len() int {
	return len(m.text)
}

// Slice returns the text in r, clamped to the document.
func (m *Model) Slice(r coords.NativeRange) string {
	r = r.Clamp(len(m.text))
	return string(m.text[r.Start:r.End])
}

// Blocks returns a copy of the block list.
func (m *Model) Blocks() []Block {
	return append([]Block(nil), m.blocks...)
}

// BlockCount returns the number of blocks.
func (m *Model) BlockCount() int {
	return len(m.blocks)
}

// BlockAt returns the block containing the native index.
func (m *Model) BlockAt(i int) (Block, bool) {
	idx := m.indexAt(i)
	if idx < 0 {
		return Block{}, false
	}
	return m.blocks[idx], true
}

// Parse re-derives every block from the text.
func (m *Model) Parse() []Block {
	m.blocks = parseAll(m.text)
	return m.Blocks()
}

// FoldableRanges returns each block's foldable ranges.
func (m *Model) FoldableRanges() [][]coords.NativeRange {
	out := make([][]coords.NativeRange, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.Foldable
	}
	return out
}

// Apply replaces op.Range with op.Text and reparses the affected blocks.
// An operation outside the text fails with ErrOutOfRangeOperation and
// leaves the model untouched.
func (m *Model) Apply(op ot.Operation) (Result, error) {
	if err := op.Validate(len(m.text)); err != nil {
		return Result{}, &OperationError{Op: op, Len: len(m.text)}
	}

	first, last := m.scope(op.Range)
	scopeStart, oldEnd := 0, 0
	if last >= first {
		scopeStart = m.blocks[first].Range.Start
		oldEnd = m.blocks[last].Range.End
	}

	text, err := ot.Apply(m.text, op)
	if err != nil {
		return Result{}, &OperationError{Op: op, Len: len(m.text)}
	}
	delta := op.Delta()

	p := parser{text: text}
	stop := oldEnd + delta
	k := last + 1
	var fresh []Block
	pos := scopeStart
	for pos < len(text) {
		if pos >= stop {
			// Stop once parsing realigns with an untouched block.
			for k < len(m.blocks) && m.blocks[k].Range.Start+delta < pos {
				k++
			}
			if k < len(m.blocks) && m.blocks[k].Range.Start+delta == pos {
				break
			}
		}
		b := p.block(pos)
		fresh = append(fresh, b)
		pos = b.Range.End
	}
	if pos >= len(text) {
		k = len(m.blocks)
	}

	blocks := make([]Block, 0, first+len(fresh)+len(m.blocks)-k)
	blocks = append(blocks, m.blocks[:first]...)
	blocks = append(blocks, fresh...)
	for _, b := range m.blocks[k:] {
		blocks = append(blocks, b.shifted(delta))
	}

	m.text = text
	m.blocks = blocks
	if err := m.Validate(); err != nil {
		panic(err)
	}

	return Result{
		Blocks:   append([]Block(nil), fresh...),
		First:    first,
		Affected: coords.Native(scopeStart, pos),
		Delta:    delta,
	}, nil
}

// Validate checks that the blocks partition the text and that every
// block's foldable ranges are sorted, disjoint and inside the block.
func (m *Model) Validate() error {
	pos := 0
	for i, b := range m.blocks {
		if b.Range.Start != pos {
			return &PartitionError{Index: i, Reason: "gap or overlap at " + b.Range.String()}
		}
		if b.Range.IsEmpty() {
			return &PartitionError{Index: i, Reason: "empty block"}
		}
		prev := b.Range.Start
		for _, f := range b.Foldable {
			if f.Start < prev || f.End > b.Range.End || f.IsEmpty() {
				return &PartitionError{Index: i, Reason: "foldable range " + f.String() + " out of order"}
			}
			prev = f.End
		}
		pos = b.Range.End
	}
	if pos != len(m.text) {
		return &PartitionError{Index: len(m.blocks), Reason: "blocks do not cover the text"}
	}
	return nil
}

// indexAt returns the index of the block containing i, or -1.
func (m *Model) indexAt(i int) int {
	if i < 0 || i >= len(m.text) {
		return -1
	}
	idx := sort.Search(len(m.blocks), func(k int) bool {
		return m.blocks[k].Range.End > i
	})
	if idx < len(m.blocks) && m.blocks[idx].Contains(i) {
		return idx
	}
	return -1
}

// scope returns the indices of the first and last block an edit of r
// touches. Edits at the end of the text belong to the last block.
func (m *Model) scope(r coords.NativeRange) (first, last int) {
	n := len(m.blocks)
	if n == 0 {
		return 0, -1
	}
	first = m.indexAt(r.Start)
	if first < 0 {
		first = n - 1
	}
	last = m.indexAt(r.End)
	if last < 0 {
		last = n - 1
	}
	return first, last
}

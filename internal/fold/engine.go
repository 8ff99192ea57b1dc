// Package fold tracks which markup syntax characters are hidden.
//
// The Engine owns the foldable ranges produced by the document parse and the
// single unfolded range (the block under active edit). From them it derives
// the folded index set consumed by rangemap. Every mutation returns a Change
// describing the old and new folded sets and which indices flipped
// membership, so callers can recompute dependent state in an explicit order
// and request layout invalidation only when something actually changed.
package fold

import (
	"github.com/dshills/foldtext/internal/coords"
)

// Change describes the effect of one Engine mutation.
type Change struct {
	// OldFolded and NewFolded are the folded sets before and after.
	OldFolded coords.IndexSet
	NewFolded coords.IndexSet

	// Changed holds indices whose fold membership flipped.
	Changed coords.IndexSet

	// Invalidate is the native range the layout surface must re-lay out,
	// or nil when no index changed membership.
	Invalidate *coords.NativeRange

	// Unfolding is true when this change revealed previously hidden
	// glyphs for a newly unfolded range.
	Unfolding bool
}

// NeedsInvalidation returns true if the change requires re-layout.
func (c Change) NeedsInvalidation() bool {
	return c.Invalidate != nil
}

// Engine derives the folded index set. It is not safe for concurrent use;
// the editor serializes access.
type Engine struct {
	strategy Strategy
	docLen   int

	foldable    [][]coords.NativeRange
	foldableSet coords.IndexSet
	unfolded    *coords.NativeRange
	folded      coords.IndexSet

	unfolding bool

	// pending accumulates invalidation not yet handed to the surface.
	pending *coords.NativeRange

	// needsLayoutPass is set once invalidation was requested and cleared
	// when the surface reports that layout completed.
	needsLayoutPass bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy sets the invalidation strategy.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		if s != nil {
			e.strategy = s
		}
	}
}

// NewEngine creates an Engine with nothing foldable.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{strategy: MinimalRange{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the invalidation strategy in use.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// SetDocumentLength records the native text length.
func (e *Engine) SetDocumentLength(n int) {
	e.docLen = max(n, 0)
}

// DocumentLength returns the recorded native text length.
func (e *Engine) DocumentLength() int {
	return e.docLen
}

// FoldedIndices returns the current folded index set.
func (e *Engine) FoldedIndices() coords.IndexSet {
	return e.folded
}

// FoldableIndices returns the union of all foldable ranges.
func (e *Engine) FoldableIndices() coords.IndexSet {
	return e.foldableSet
}

// FoldableRanges returns the foldable ranges grouped by block.
func (e *Engine) FoldableRanges() [][]coords.NativeRange {
	out := make([][]coords.NativeRange, len(e.foldable))
	for i, rs := range e.foldable {
		out[i] = append([]coords.NativeRange(nil), rs...)
	}
	return out
}

// UnfoldedRange returns the unfolded range, or nil.
func (e *Engine) UnfoldedRange() *coords.NativeRange {
	if e.unfolded == nil {
		return nil
	}
	r := *e.unfolded
	return &r
}

// IsUnfolding reports whether hidden glyphs were just revealed and the
// surface has not yet been asked to lay them out.
func (e *Engine) IsUnfolding() bool {
	return e.unfolding
}

// PendingInvalidation returns the accumulated range awaiting invalidation.
func (e *Engine) PendingInvalidation() *coords.NativeRange {
	if e.pending == nil {
		return nil
	}
	r := *e.pending
	return &r
}

// MarkInvalidated records that the pending invalidation was handed to the
// layout surface. It clears the unfolding flag.
func (e *Engine) MarkInvalidated() {
	if e.pending != nil {
		e.needsLayoutPass = true
	}
	e.pending = nil
	e.unfolding = false
}

// LayoutCompleted is called when the surface finished laying out after an
// invalidation. It returns true if a fold invalidation was outstanding, in
// which case the caret position must be recomputed by the caller.
func (e *Engine) LayoutCompleted() bool {
	was := e.needsLayoutPass
	e.needsLayoutPass = false
	return was
}

// SetFoldableRanges replaces the foldable ranges, one slice per block.
func (e *Engine) SetFoldableRanges(perBlock [][]coords.NativeRange) Change {
	e.foldable = make([][]coords.NativeRange, len(perBlock))
	var all []coords.NativeRange
	for i, rs := range perBlock {
		e.foldable[i] = append([]coords.NativeRange(nil), rs...)
		all = append(all, rs...)
	}
	e.foldableSet = coords.NewIndexSet(all...)
	return e.recompute(false)
}

// SetUnfoldedRange sets or clears the unfolded range.
func (e *Engine) SetUnfoldedRange(r *coords.NativeRange) Change {
	old := e.unfolded
	if r != nil {
		v := *r
		e.unfolded = &v
	} else {
		e.unfolded = nil
	}
	becameUnfolded := r != nil && (old == nil || *old != *r)
	return e.recompute(becameUnfolded)
}

// ApplyEdit shifts the engine's state through a text edit replacing
// [start, oldEnd) with text ending at newEnd. It reports no change: text
// edits are invalidated by the caller, and a following SetFoldableRanges
// compares against the shifted state.
func (e *Engine) ApplyEdit(start, oldEnd, newEnd int) {
	e.docLen += newEnd - oldEnd
	if e.docLen < 0 {
		e.docLen = 0
	}
	e.foldableSet = e.foldableSet.ApplyEdit(start, oldEnd, newEnd)
	e.folded = e.folded.ApplyEdit(start, oldEnd, newEnd)
	if e.unfolded != nil {
		u := shiftRange(*e.unfolded, start, oldEnd, newEnd)
		e.unfolded = &u
	}
	if e.pending != nil {
		p := shiftRange(*e.pending, start, oldEnd, newEnd)
		e.pending = &p
	}
}

// Reset clears everything and sets the document length.
func (e *Engine) Reset(docLen int) {
	e.foldable = nil
	e.foldableSet = coords.IndexSet{}
	e.unfolded = nil
	e.folded = coords.IndexSet{}
	e.unfolding = false
	e.docLen = max(docLen, 0)
	whole := coords.Native(0, e.docLen)
	e.pending = &whole
}

func (e *Engine) recompute(becameUnfolded bool) Change {
	oldFolded := e.folded
	newFolded := e.foldableSet
	if e.unfolded != nil {
		newFolded = newFolded.SubtractRange(*e.unfolded)
	}
	e.folded = newFolded

	changed := oldFolded.SymmetricDifference(newFolded)
	c := Change{
		OldFolded: oldFolded,
		NewFolded: newFolded,
		Changed:   changed,
	}

	if becameUnfolded {
		e.unfolding = true
	}
	if e.unfolded == nil {
		e.unfolding = false
	}
	c.Unfolding = e.unfolding

	if r, ok := e.strategy.Invalidation(changed, e.docLen); ok {
		c.Invalidate = &r
		if e.pending == nil {
			e.pending = &r
		} else {
			u := e.pending.Union(r)
			e.pending = &u
		}
	}
	return c
}

func shiftRange(r coords.NativeRange, start, oldEnd, newEnd int) coords.NativeRange {
	shift := func(x int) int {
		switch {
		case x <= start:
			return x
		case x >= oldEnd:
			return x + newEnd - oldEnd
		default:
			return newEnd
		}
	}
	return coords.Native(shift(r.Start), shift(r.End))
}

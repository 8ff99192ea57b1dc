package coords

import "fmt"

// NativeSpace tags ranges counted over the raw markup text, syntax included.
type NativeSpace struct{}

// PresentationSpace tags ranges counted over the rendered text, where folded
// indices are skipped.
type PresentationSpace struct{}

// Space is the set of coordinate spaces a Range can be expressed in.
type Space interface {
	NativeSpace | PresentationSpace
}

// Range is a half-open range of code point indices [Start, End) in the
// coordinate space S. Ranges in different spaces are distinct types and
// must be translated through a rangemap.Map.
type Range[S Space] struct {
	Start int // Inclusive start index
	End   int // Exclusive end index
}

// NativeRange is a range over the native markup text.
type NativeRange = Range[NativeSpace]

// PresentationRange is a range over the presentation text.
type PresentationRange = Range[PresentationSpace]

// Native creates a NativeRange.
func Native(start, end int) NativeRange {
	return NativeRange{Start: start, End: end}
}

// NativeCaret creates a zero-length NativeRange at offset.
func NativeCaret(offset int) NativeRange {
	return NativeRange{Start: offset, End: offset}
}

// Presentation creates a PresentationRange.
func Presentation(start, end int) PresentationRange {
	return PresentationRange{Start: start, End: end}
}

// PresentationCaret creates a zero-length PresentationRange at offset.
func PresentationCaret(offset int) PresentationRange {
	return PresentationRange{Start: offset, End: offset}
}

// String returns a human-readable representation of the range.
func (r Range[S]) String() string {
	var s S
	switch any(s).(type) {
	case NativeSpace:
		return fmt.Sprintf("n[%d:%d)", r.Start, r.End)
	default:
		return fmt.Sprintf("p[%d:%d)", r.Start, r.End)
	}
}

// Len returns the number of indices covered by the range.
func (r Range[S]) Len() int {
	return r.End - r.Start
}

// IsEmpty returns true if the range has zero length.
func (r Range[S]) IsEmpty() bool {
	return r.Start == r.End
}

// IsValid returns true if 0 <= Start <= End.
func (r Range[S]) IsValid() bool {
	return r.Start >= 0 && r.Start <= r.End
}

// Contains returns true if the given index is within the range.
func (r Range[S]) Contains(index int) bool {
	return index >= r.Start && index < r.End
}

// ContainsRange returns true if other lies entirely within r.
func (r Range[S]) ContainsRange(other Range[S]) bool {
	return other.Start >= r.Start && other.End <= r.End
}

// Overlaps returns true if the two ranges share at least one index.
func (r Range[S]) Overlaps(other Range[S]) bool {
	return r.Start < other.End && other.Start < r.End
}

// Touches returns true if the ranges overlap or share a boundary.
func (r Range[S]) Touches(other Range[S]) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Intersect returns the intersection of two ranges, or an empty range at
// the later start if they don't overlap.
func (r Range[S]) Intersect(other Range[S]) Range[S] {
	start := max(r.Start, other.Start)
	end := min(r.End, other.End)
	if start >= end {
		return Range[S]{Start: start, End: start}
	}
	return Range[S]{Start: start, End: end}
}

// Union returns the smallest range that contains both ranges.
func (r Range[S]) Union(other Range[S]) Range[S] {
	return Range[S]{Start: min(r.Start, other.Start), End: max(r.End, other.End)}
}

// Shift returns a new range shifted by delta.
func (r Range[S]) Shift(delta int) Range[S] {
	return Range[S]{Start: r.Start + delta, End: r.End + delta}
}

// Clamp returns the range normalized so that Start <= End and both
// endpoints lie within [0, limit].
func (r Range[S]) Clamp(limit int) Range[S] {
	if limit < 0 {
		limit = 0
	}
	start := min(max(r.Start, 0), limit)
	end := min(max(r.End, 0), limit)
	if start > end {
		start, end = end, start
	}
	return Range[S]{Start: start, End: end}
}

// Package rangemap translates between native and presentation coordinates
// for a fixed folded index set.
//
// A presentation index counts only unfolded native indices. A folded native
// index has no presentation position of its own; it collapses onto the
// boundary that follows the nearest preceding unfolded index (or 0). As a
// consequence a native range lying entirely inside one folded run maps to a
// zero-length presentation range, which is the intended behaviour for hidden
// syntax.
//
// A Map is immutable and all of its methods are pure. Out-of-bounds inputs
// are clamped to [0, length]; nothing in this package returns an error.
package rangemap

import (
	"sort"
	"strings"

	"github.com/dshills/foldtext/internal/coords"
)

// Map is a bidirectional translator for one folded index set over a text
// of a given native length.
type Map struct {
	nativeLen int
	runs      []coords.NativeRange

	// hiddenBefore[i] is the number of folded indices in runs[:i].
	hiddenBefore []int
}

// New creates a Map. Folded runs extending past nativeLen are truncated.
func New(folded coords.IndexSet, nativeLen int) *Map {
	if nativeLen < 0 {
		nativeLen = 0
	}
	runs := folded.Runs()
	kept := runs[:0]
	for _, r := range runs {
		if r.Start >= nativeLen {
			break
		}
		if r.End > nativeLen {
			r.End = nativeLen
		}
		kept = append(kept, r)
	}

	m := &Map{
		nativeLen:    nativeLen,
		runs:         kept,
		hiddenBefore: make([]int, len(kept)+1),
	}
	for i, r := range kept {
		m.hiddenBefore[i+1] = m.hiddenBefore[i] + r.Len()
	}
	return m
}

// Identity returns a Map with nothing folded.
func Identity(nativeLen int) *Map {
	return New(coords.IndexSet{}, nativeLen)
}

// NativeLen returns the length of the native text.
func (m *Map) NativeLen() int {
	return m.nativeLen
}

// PresentationLen returns the length of the presentation text.
func (m *Map) PresentationLen() int {
	return m.nativeLen - m.hiddenBefore[len(m.runs)]
}

// IsFolded reports whether the native index is hidden.
func (m *Map) IsFolded(native int) bool {
	i := sort.Search(len(m.runs), func(i int) bool {
		return m.runs[i].End > native
	})
	return i < len(m.runs) && m.runs[i].Start <= native
}

// PresentationIndex returns the number of unfolded native indices before
// the given native index.
func (m *Map) PresentationIndex(native int) int {
	native = clamp(native, m.nativeLen)

	// First run that is not entirely before native.
	i := sort.Search(len(m.runs), func(i int) bool {
		return m.runs[i].End > native
	})
	hidden := m.hiddenBefore[i]
	if i < len(m.runs) && m.runs[i].Start < native {
		hidden += native - m.runs[i].Start
	}
	return native - hidden
}

// NativeIndex returns the native index of the presentation index's
// character, or the native length when the presentation index is at or
// past the end of the presentation text.
func (m *Map) NativeIndex(presentation int) int {
	if presentation <= 0 {
		presentation = 0
	}
	if presentation >= m.PresentationLen() {
		return m.nativeLen
	}

	// Find the number of runs that start at or before the target character.
	// The character lies after run i-1 iff runs[i-1].Start <= presentation + hiddenBefore[i-1].
	i := sort.Search(len(m.runs), func(i int) bool {
		return m.runs[i].Start > presentation+m.hiddenBefore[i]
	})
	return presentation + m.hiddenBefore[i]
}

// ToPresentation translates a native range.
func (m *Map) ToPresentation(r coords.NativeRange) coords.PresentationRange {
	r = r.Clamp(m.nativeLen)
	return coords.Presentation(m.PresentationIndex(r.Start), m.PresentationIndex(r.End))
}

// ToNative translates a presentation range.
func (m *Map) ToNative(r coords.PresentationRange) coords.NativeRange {
	r = r.Clamp(m.PresentationLen())
	return coords.Native(m.NativeIndex(r.Start), m.NativeIndex(r.End))
}

// Presentation returns text with every folded index removed. Text shorter
// or longer than the map's native length is handled by clamping.
func (m *Map) Presentation(text []rune) string {
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, r := range m.runs {
		if r.Start >= len(text) {
			break
		}
		b.WriteString(string(text[pos:r.Start]))
		pos = min(r.End, len(text))
	}
	if pos < len(text) {
		b.WriteString(string(text[pos:]))
	}
	return b.String()
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

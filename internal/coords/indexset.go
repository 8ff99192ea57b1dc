package coords

import (
	"slices"
	"sort"
	"strings"
)

// IndexSet is an immutable set of native indices stored as sorted,
// disjoint, non-adjacent runs. The zero value is the empty set.
type IndexSet struct {
	runs []NativeRange
}

// NewIndexSet builds a set from arbitrary ranges. Empty and inverted
// ranges are ignored; overlapping and adjacent ranges are merged.
func NewIndexSet(ranges ...NativeRange) IndexSet {
	runs := make([]NativeRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Start < 0 {
			r.Start = 0
		}
		if r.End > r.Start {
			runs = append(runs, r)
		}
	}
	if len(runs) == 0 {
		return IndexSet{}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Start < runs[j].Start
	})

	merged := runs[:1]
	for _, r := range runs[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return IndexSet{runs: merged}
}

// Runs returns a copy of the set's runs in ascending order.
func (s IndexSet) Runs() []NativeRange {
	return slices.Clone(s.runs)
}

// IsEmpty returns true if the set has no indices.
func (s IndexSet) IsEmpty() bool {
	return len(s.runs) == 0
}

// Len returns the number of indices in the set.
func (s IndexSet) Len() int {
	n := 0
	for _, r := range s.runs {
		n += r.Len()
	}
	return n
}

// Contains reports whether index is in the set.
func (s IndexSet) Contains(index int) bool {
	i := sort.Search(len(s.runs), func(i int) bool {
		return s.runs[i].End > index
	})
	return i < len(s.runs) && s.runs[i].Start <= index
}

// Intersects reports whether any index of r is in the set.
func (s IndexSet) Intersects(r NativeRange) bool {
	if r.IsEmpty() {
		return false
	}
	i := sort.Search(len(s.runs), func(i int) bool {
		return s.runs[i].End > r.Start
	})
	return i < len(s.runs) && s.runs[i].Start < r.End
}

// Bounds returns the smallest range covering every index in the set.
func (s IndexSet) Bounds() (NativeRange, bool) {
	if len(s.runs) == 0 {
		return NativeRange{}, false
	}
	return Native(s.runs[0].Start, s.runs[len(s.runs)-1].End), true
}

// Union returns the set of indices in s or other.
func (s IndexSet) Union(other IndexSet) IndexSet {
	all := make([]NativeRange, 0, len(s.runs)+len(other.runs))
	all = append(all, s.runs...)
	all = append(all, other.runs...)
	return NewIndexSet(all...)
}

// Subtract returns the set of indices in s that are not in other.
func (s IndexSet) Subtract(other IndexSet) IndexSet {
	if len(other.runs) == 0 || len(s.runs) == 0 {
		return s
	}
	var out []NativeRange
	j := 0
	for _, r := range s.runs {
		start := r.Start
		for j < len(other.runs) && other.runs[j].End <= start {
			j++
		}
		k := j
		for k < len(other.runs) && other.runs[k].Start < r.End {
			cut := other.runs[k]
			if cut.Start > start {
				out = append(out, Native(start, cut.Start))
			}
			if cut.End > start {
				start = cut.End
			}
			k++
		}
		if start < r.End {
			out = append(out, Native(start, r.End))
		}
	}
	return IndexSet{runs: out}
}

// SubtractRange returns the set without the indices of r.
func (s IndexSet) SubtractRange(r NativeRange) IndexSet {
	return s.Subtract(NewIndexSet(r))
}

// SymmetricDifference returns the indices in exactly one of s and other.
func (s IndexSet) SymmetricDifference(other IndexSet) IndexSet {
	return s.Subtract(other).Union(other.Subtract(s))
}

// SubsetOf reports whether every index of s is in other.
func (s IndexSet) SubsetOf(other IndexSet) bool {
	return s.Subtract(other).IsEmpty()
}

// Equal reports whether both sets contain the same indices.
func (s IndexSet) Equal(other IndexSet) bool {
	return slices.Equal(s.runs, other.runs)
}

// String returns the runs joined by commas.
func (s IndexSet) String() string {
	parts := make([]string, len(s.runs))
	for i, r := range s.runs {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ApplyEdit re-expresses the set after the native range [start, oldEnd) was
// replaced by text ending at newEnd. Indices inside the replaced range are
// dropped and indices at or after oldEnd shift by newEnd-oldEnd.
func (s IndexSet) ApplyEdit(start, oldEnd, newEnd int) IndexSet {
	if len(s.runs) == 0 {
		return s
	}
	delta := newEnd - oldEnd
	out := make([]NativeRange, 0, len(s.runs)+1)
	for _, r := range s.runs {
		if r.End <= start {
			out = append(out, r)
			continue
		}
		if r.Start < start {
			out = append(out, Native(r.Start, start))
		}
		if r.End > oldEnd {
			out = append(out, Native(max(r.Start, oldEnd)+delta, r.End+delta))
		}
	}
	return NewIndexSet(out...)
}

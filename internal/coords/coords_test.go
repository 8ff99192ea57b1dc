package coords

import "testing"

func TestRangeBasics(t *testing.T) {
	r := Native(2, 6)

	if r.Len() != 4 {
		t.Errorf("expected length 4, got %d", r.Len())
	}
	if r.IsEmpty() {
		t.Error("range should not be empty")
	}
	if !r.Contains(2) || r.Contains(6) {
		t.Error("range should contain 2 and not 6")
	}
	if !r.Overlaps(Native(5, 9)) {
		t.Error("expected overlap with [5,9)")
	}
	if r.Overlaps(Native(6, 9)) {
		t.Error("adjacent ranges should not overlap")
	}
	if !r.Touches(Native(6, 9)) {
		t.Error("adjacent ranges should touch")
	}
	if got := r.String(); got != "n[2:6)" {
		t.Errorf("expected n[2:6), got %s", got)
	}
	if got := Presentation(0, 4).String(); got != "p[0:4)" {
		t.Errorf("expected p[0:4), got %s", got)
	}
}

func TestRangeClamp(t *testing.T) {
	tests := []struct {
		name  string
		in    NativeRange
		limit int
		want  NativeRange
	}{
		{"inside", Native(1, 3), 5, Native(1, 3)},
		{"negative start", Native(-4, 3), 5, Native(0, 3)},
		{"past end", Native(2, 40), 5, Native(2, 5)},
		{"inverted", Native(4, 1), 5, Native(1, 4)},
		{"fully outside", Native(9, 12), 5, Native(5, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(tt.limit); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRangeIntersectUnion(t *testing.T) {
	a, b := Native(0, 5), Native(3, 8)
	if got := a.Intersect(b); got != Native(3, 5) {
		t.Errorf("expected [3,5), got %s", got)
	}
	if got := a.Union(b); got != Native(0, 8) {
		t.Errorf("expected [0,8), got %s", got)
	}
	if got := a.Intersect(Native(7, 9)); !got.IsEmpty() {
		t.Errorf("expected empty intersection, got %s", got)
	}
}

func TestIndexSetNormalizes(t *testing.T) {
	s := NewIndexSet(Native(6, 8), Native(0, 2), Native(1, 3), Native(3, 4), Native(5, 5))

	runs := s.Runs()
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", runs)
	}
	if runs[0] != Native(0, 4) || runs[1] != Native(6, 8) {
		t.Errorf("unexpected runs %v", runs)
	}
	if s.Len() != 6 {
		t.Errorf("expected 6 indices, got %d", s.Len())
	}
}

func TestIndexSetContains(t *testing.T) {
	s := NewIndexSet(Native(0, 2), Native(6, 8))
	for i, want := range []bool{true, true, false, false, false, false, true, true, false} {
		if got := s.Contains(i); got != want {
			t.Errorf("Contains(%d): expected %v, got %v", i, want, got)
		}
	}
	if !s.Intersects(Native(1, 4)) {
		t.Error("expected intersection with [1,4)")
	}
	if s.Intersects(Native(2, 6)) {
		t.Error("did not expect intersection with [2,6)")
	}
	if s.Intersects(Native(7, 7)) {
		t.Error("empty range never intersects")
	}
}

func TestIndexSetSubtract(t *testing.T) {
	s := NewIndexSet(Native(0, 2), Native(6, 8), Native(10, 20))
	got := s.SubtractRange(Native(1, 12))

	want := NewIndexSet(Native(0, 1), Native(12, 20))
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}

	split := NewIndexSet(Native(0, 10)).Subtract(NewIndexSet(Native(2, 3), Native(5, 7)))
	wantSplit := NewIndexSet(Native(0, 2), Native(3, 5), Native(7, 10))
	if !split.Equal(wantSplit) {
		t.Errorf("expected %s, got %s", wantSplit, split)
	}
}

func TestIndexSetSymmetricDifference(t *testing.T) {
	a := NewIndexSet(Native(0, 2), Native(6, 8))
	b := NewIndexSet(Native(1, 2), Native(6, 9))

	got := a.SymmetricDifference(b)
	want := NewIndexSet(Native(0, 1), Native(8, 9))
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}

	bounds, ok := got.Bounds()
	if !ok || bounds != Native(0, 9) {
		t.Errorf("expected bounds [0,9), got %s (ok=%v)", bounds, ok)
	}
	if !NewIndexSet(Native(1, 2)).SubsetOf(a) {
		t.Error("expected subset")
	}
}

func TestIndexSetApplyEdit(t *testing.T) {
	s := NewIndexSet(Native(0, 2), Native(6, 8))

	// Insert three characters at 4.
	got := s.ApplyEdit(4, 4, 7)
	want := NewIndexSet(Native(0, 2), Native(9, 11))
	if !got.Equal(want) {
		t.Errorf("insert: expected %s, got %s", want, got)
	}

	// Delete [1,7): the tail of the first run and head of the second vanish.
	got = s.ApplyEdit(1, 7, 1)
	want = NewIndexSet(Native(0, 2))
	if !got.Equal(want) {
		t.Errorf("delete: expected %s, got %s", want, got)
	}
}

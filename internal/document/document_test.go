package document

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/ot"
)

func TestParseKinds(t *testing.T) {
	text := "# Title\nplain\n- item\n  2. sub\n> > quoted\n---\n```go\ncode\n```\n"
	blocks := ParseText(text)

	want := []struct {
		kind    Kind
		level   int
		ordered bool
		text    string
	}{
		{Heading, 1, false, "# Title\n"},
		{Paragraph, 0, false, "plain\n"},
		{ListItem, 0, false, "- item\n"},
		{ListItem, 1, true, "  2. sub\n"},
		{Quote, 2, false, "> > quoted\n"},
		{ThematicBreak, 0, false, "---\n"},
		{CodeFence, 0, false, "```go\ncode\n```\n"},
	}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %v", len(want), len(blocks), blocks)
	}
	runes := []rune(text)
	for i, w := range want {
		b := blocks[i]
		if b.Kind != w.kind || b.Level != w.level || b.Ordered != w.ordered {
			t.Errorf("block %d: expected %s(%d) ordered=%v, got %s ordered=%v", i, w.kind, w.level, w.ordered, b, b.Ordered)
		}
		if got := string(runes[b.Range.Start:b.Range.End]); got != w.text {
			t.Errorf("block %d: expected text %q, got %q", i, w.text, got)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	m := New("")
	if m.BlockCount() != 0 {
		t.Errorf("expected no blocks, got %d", m.BlockCount())
	}
	if _, ok := m.BlockAt(0); ok {
		t.Error("BlockAt should fail on an empty document")
	}
}

func TestFoldableRanges(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []coords.NativeRange
	}{
		{"bold", "**bold**", []coords.NativeRange{coords.Native(0, 2), coords.Native(6, 8)}},
		{"italic", "an _it_ word", []coords.NativeRange{coords.Native(3, 4), coords.Native(6, 7)}},
		{"strike", "~~no~~", []coords.NativeRange{coords.Native(0, 2), coords.Native(4, 6)}},
		{"code", "use `x*y*z` here", []coords.NativeRange{coords.Native(4, 5), coords.Native(10, 11)}},
		{"heading", "## **Hi**", []coords.NativeRange{coords.Native(0, 3), coords.Native(3, 5), coords.Native(7, 9)}},
		{"quote", "> hi", []coords.NativeRange{coords.Native(0, 2)}},
		{"link", "[a](u)", []coords.NativeRange{coords.Native(0, 1), coords.Native(2, 6)}},
		{"unclosed", "**open", nil},
		{"spaced", "a * b * c", nil},
		{"escaped", `\*no*`, nil},
		{"fence", "~~~\nx\n~~~", []coords.NativeRange{coords.Native(0, 3), coords.Native(6, 9)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.text)
			var got []coords.NativeRange
			for _, rs := range m.FoldableRanges() {
				got = append(got, rs...)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("range %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestUnterminatedFenceRunsToEnd(t *testing.T) {
	m := New("para\n```\ncode\nmore")
	blocks := m.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", blocks)
	}
	if blocks[1].Kind != CodeFence || blocks[1].Range != coords.Native(5, 18) {
		t.Errorf("expected fence to end of document, got %s", blocks[1])
	}
}

func TestApplyInsideBlockReparsesOnlyThatBlock(t *testing.T) {
	m := New("# Title\n**bold**\ntail\n")

	res, err := m.Apply(ot.NewInsert(10, "X"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(res.Blocks) != 1 || res.First != 1 {
		t.Fatalf("expected only block 1 reparsed, got first=%d blocks=%v", res.First, res.Blocks)
	}
	if res.Affected != coords.Native(8, 18) {
		t.Errorf("expected affected n[8:18), got %s", res.Affected)
	}
	if res.Delta != 1 {
		t.Errorf("expected delta 1, got %d", res.Delta)
	}
	if m.Text() != "# Title\n**bXold**\ntail\n" {
		t.Errorf("unexpected text %q", m.Text())
	}
	last, _ := m.BlockAt(m.Len() - 1)
	if last.Range != coords.Native(18, 23) {
		t.Errorf("expected tail shifted to n[18:23), got %s", last.Range)
	}
}

func TestApplyNewlineSplitsBlock(t *testing.T) {
	m := New("one two\nnext\n")

	res, err := m.Apply(ot.NewInsert(3, "\n"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(res.Blocks) != 2 {
		t.Fatalf("expected the split to report 2 blocks, got %v", res.Blocks)
	}
	if m.BlockCount() != 3 {
		t.Errorf("expected 3 blocks, got %d", m.BlockCount())
	}
}

func TestApplyOpeningFenceExtendsScope(t *testing.T) {
	m := New("a\nb\nc\n")

	res, err := m.Apply(ot.NewInsert(0, "```\n"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Affected != coords.Native(0, 10) {
		t.Errorf("expected scope to extend to end of document, got %s", res.Affected)
	}
	if m.BlockCount() != 1 || m.Blocks()[0].Kind != CodeFence {
		t.Errorf("expected a single fence block, got %v", m.Blocks())
	}

	// Closing the fence splits the rest back into paragraphs.
	if _, err := m.Apply(ot.NewInsert(6, "```\n")); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	assertMatchesFullParse(t, m)
	if m.BlockCount() != 3 {
		t.Errorf("expected fence plus 2 paragraphs, got %v", m.Blocks())
	}
}

func TestApplyOutOfRange(t *testing.T) {
	m := New("abc")

	tests := []ot.Operation{
		ot.NewDelete(2, 5),
		ot.NewInsert(4, "x"),
		ot.NewReplace(coords.Native(-1, 1), "x"),
		ot.NewReplace(coords.Native(2, 1), "x"),
	}
	for _, op := range tests {
		_, err := m.Apply(op)
		if !errors.Is(err, ErrOutOfRangeOperation) {
			t.Errorf("%s: expected ErrOutOfRangeOperation, got %v", op, err)
		}
		var oe *OperationError
		if !errors.As(err, &oe) || oe.Len != 3 {
			t.Errorf("%s: expected OperationError with length 3, got %v", op, err)
		}
	}
	if m.Text() != "abc" {
		t.Errorf("rejected operations must not mutate, got %q", m.Text())
	}
}

func TestReparseIsIdempotent(t *testing.T) {
	m := New("# H\n**a** _b_ `c` [d](e)\n> q\n```\nx\n```\n")
	first := m.Blocks()
	second := m.Parse()
	if len(first) != len(second) {
		t.Fatalf("block count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Errorf("block %d changed: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestPartitionAndIncrementalProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pieces := []string{"\n", "#", "# ", "**", "*", "_", "~~", "`", "```", "> ", "- ", "1. ", "[", "](u)", "---", "a", "bc", " ", "é"}

	m := New("# Start\nsome **bold** text\n")
	for i := 0; i < 500; i++ {
		n := m.Len()
		s := rng.Intn(n + 1)
		e := s + rng.Intn(min(n-s, 6)+1)
		text := ""
		for k := rng.Intn(3); k > 0; k-- {
			text += pieces[rng.Intn(len(pieces))]
		}
		op := ot.NewReplace(coords.Native(s, e), text)

		if _, err := m.Apply(op); err != nil {
			t.Fatalf("step %d: Apply %s failed: %v", i, op, err)
		}
		if err := m.Validate(); err != nil {
			t.Fatalf("step %d: partition broken after %s: %v", i, op, err)
		}
		assertMatchesFullParse(t, m)
		if t.Failed() {
			t.Fatalf("step %d: incremental parse diverged after %s on %q", i, op, m.Text())
		}
	}
}

func assertMatchesFullParse(t *testing.T, m *Model) {
	t.Helper()
	got := m.Blocks()
	want := ParseText(m.Text())
	if len(got) != len(want) {
		t.Errorf("expected %d blocks, got %d", len(want), len(got))
		return
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("block %d: expected %s %v, got %s %v", i, want[i], want[i].Foldable, got[i], got[i].Foldable)
		}
	}
}

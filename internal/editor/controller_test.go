package editor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dshills/foldtext/internal/collab"
	"github.com/dshills/foldtext/internal/collab/channel"
	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/document"
	"github.com/dshills/foldtext/internal/fold"
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/protocol"
	"github.com/dshills/foldtext/internal/theme"
)

// recorder is a surface that records every call.
type recorder struct {
	invs []Invalidation
	sels []*coords.PresentationRange
}

func (r *recorder) Invalidate(inv Invalidation) {
	r.invs = append(r.invs, inv)
}

func (r *recorder) SetSelection(p *coords.PresentationRange) {
	r.sels = append(r.sels, p)
}

func presPtr(start, end int) *coords.PresentationRange {
	r := coords.Presentation(start, end)
	return &r
}

const sample = "# Title\nsome **bold** text\n"

func TestFoldedPresentation(t *testing.T) {
	c := New(sample)
	if got := c.PresentationText(); got != "Title\nsome bold text\n" {
		t.Errorf("expected folded text, got %q", got)
	}
	if got := c.NativeText(); got != sample {
		t.Errorf("expected native text unchanged, got %q", got)
	}
	if got := c.ToPresentation(coords.Native(15, 19)); got != coords.Presentation(11, 15) {
		t.Errorf("expected p[11:15), got %s", got)
	}
	// The end lands after the hidden closing delimiter.
	if got := c.ToNative(coords.Presentation(11, 15)); got != coords.Native(15, 21) {
		t.Errorf("expected n[15:21), got %s", got)
	}
}

func TestSelectionUnfoldsBlock(t *testing.T) {
	c := New(sample)
	rec := &recorder{}
	c.Surfaces().Register("main", rec)

	if !c.SelectionChanged(presPtr(8, 8)) {
		t.Fatal("expected notification to be accepted")
	}
	if got := c.NativeSelection(); got == nil || *got != coords.NativeCaret(10) {
		t.Fatalf("expected caret at native 10, got %v", got)
	}
	if got := c.PresentationText(); got != "Title\nsome **bold** text\n" {
		t.Errorf("expected second line unfolded, got %q", got)
	}
	if len(rec.invs) != 1 {
		t.Fatalf("expected one invalidation, got %d", len(rec.invs))
	}
	inv := rec.invs[0]
	if !inv.Unfolding || inv.Text {
		t.Errorf("expected unfolding fold invalidation, got %+v", inv)
	}
	if inv.Range != coords.Presentation(11, 19) {
		t.Errorf("expected p[11:19), got %s", inv.Range)
	}

	if !c.LayoutCompleted() {
		t.Error("expected layout completion to reposition the caret")
	}
	if len(rec.sels) != 1 || *rec.sels[0] != coords.PresentationCaret(8) {
		t.Errorf("expected caret pushed at 8, got %v", rec.sels)
	}
	if c.LayoutCompleted() {
		t.Error("second completion should report nothing outstanding")
	}

	// Moving within the same block changes no fold.
	rec.invs = nil
	c.SelectionChanged(presPtr(10, 12))
	if len(rec.invs) != 0 {
		t.Errorf("expected no invalidation, got %v", rec.invs)
	}
}

func TestTypingArmsGuard(t *testing.T) {
	c := New(sample)
	c.SelectionChanged(presPtr(8, 8))

	if err := c.ReplacePresentation(coords.PresentationCaret(8), "X"); err != nil {
		t.Fatalf("ReplacePresentation failed: %v", err)
	}
	if got := c.NativeText(); got != "# Title\nsoXme **bold** text\n" {
		t.Errorf("unexpected native text %q", got)
	}
	if got := c.CurrentPresentationSelection(); got == nil || *got != coords.PresentationCaret(9) {
		t.Errorf("expected caret at 9, got %v", got)
	}
	if n := c.Session().Outstanding(); n != 1 {
		t.Errorf("expected one queued operation, got %d", n)
	}

	if c.SelectionChanged(presPtr(9, 9)) {
		t.Error("echo of the local edit should be ignored")
	}
	if !c.SelectionChanged(presPtr(0, 0)) {
		t.Fatal("next notification should be accepted")
	}
	if got := c.PresentationText(); got != "# Title\nsoXme bold text\n" {
		t.Errorf("expected heading unfolded and body folded, got %q", got)
	}
}

func TestTextInvalidation(t *testing.T) {
	c := New("one\ntwo\n")
	rec := &recorder{}
	c.Surfaces().Register("main", rec)

	if err := c.ReplaceNative(coords.Native(4, 7), "# 2"); err != nil {
		t.Fatalf("ReplaceNative failed: %v", err)
	}
	if len(rec.invs) == 0 || !rec.invs[0].Text {
		t.Fatalf("expected a text invalidation, got %v", rec.invs)
	}
	if got := rec.invs[0].Range; got != coords.Presentation(4, 6) {
		t.Errorf("expected reparsed block p[4:6), got %s", got)
	}
	blocks := c.Blocks()
	if len(blocks) != 2 || blocks[1].Kind != document.Heading {
		t.Errorf("expected second block to become a heading, got %v", blocks)
	}
}

func TestOutOfRangeEdit(t *testing.T) {
	c := New("abc")
	err := c.ReplaceNative(coords.Native(2, 9), "x")
	if !errors.Is(err, document.ErrOutOfRangeOperation) {
		t.Errorf("expected ErrOutOfRangeOperation, got %v", err)
	}
	if c.NativeText() != "abc" || c.Session().Outstanding() != 0 {
		t.Error("failed edit must not change anything")
	}
}

func TestBlockSpacing(t *testing.T) {
	c := New(sample)
	b, ok := c.BlockAt(0)
	if !ok || b.Kind != document.Heading {
		t.Fatalf("expected heading at 0, got %v %v", b, ok)
	}
	if _, ok := c.BlockAt(100); ok {
		t.Error("expected no block past the end")
	}

	if got := c.BlockSpacing(0); got.MarginBottom != 16 {
		t.Errorf("expected heading margin 16, got %+v", got)
	}
	if got := c.BlockSpacing(7); got.MarginBottom != 12 {
		t.Errorf("expected paragraph margin 12, got %+v", got)
	}

	rec := &recorder{}
	c.Surfaces().Register("main", rec)
	c.SetHorizontalSizeClass(theme.Compact)
	if len(rec.invs) != 1 || rec.invs[0].Range != coords.Presentation(0, 21) {
		t.Errorf("expected whole-text invalidation, got %v", rec.invs)
	}
	if got := c.BlockSpacing(7); got.MarginBottom != 8 {
		t.Errorf("expected compact margin 8, got %+v", got)
	}
	c.SetHorizontalSizeClass(theme.Compact)
	if len(rec.invs) != 1 {
		t.Error("unchanged size class should not invalidate")
	}
}

func TestWholeDocumentStrategy(t *testing.T) {
	c := New(sample, WithFoldStrategy(fold.WholeDocument{}))
	rec := &recorder{}
	c.Surfaces().Register("main", rec)

	c.SelectionChanged(presPtr(8, 8))
	if len(rec.invs) != 1 || rec.invs[0].Range != coords.Presentation(0, 25) {
		t.Errorf("expected whole presentation invalidated, got %v", rec.invs)
	}
}

func TestAbsentSurface(t *testing.T) {
	c := New(sample)
	rec := &recorder{}
	c.Surfaces().Register("a", rec)
	c.Surfaces().Unregister("a")
	c.Surfaces().Unregister("missing")

	if err := c.ReplaceNative(coords.NativeCaret(0), "x"); err != nil {
		t.Fatalf("ReplaceNative failed: %v", err)
	}
	if len(rec.invs) != 0 {
		t.Error("unregistered surface must not be called")
	}
	if _, ok := c.Surfaces().Lookup("a"); ok {
		t.Error("expected surface to be gone")
	}
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	var got []string
	for _, id := range []string{"b", "c", "a"} {
		r.Register(id, SurfaceFunc(func(Invalidation) {}))
	}
	r.Each(func(id string, _ Surface) { got = append(got, id) })
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("expected sorted ids, got %v", got)
	}
	if r.Len() != 3 {
		t.Errorf("expected 3 surfaces, got %d", r.Len())
	}
}

func TestCollaboration(t *testing.T) {
	conns := make(chan channel.Channel, 1)
	dialer := channel.DialerFunc(func(ctx context.Context, endpoint string, header http.Header) (channel.Channel, error) {
		client, server := channel.Pipe()
		conns <- server
		return client, nil
	})
	c := New("", WithSessionOptions(collab.WithDialer(dialer)))
	rec := &recorder{}
	c.Surfaces().Register("main", rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- c.Connect(ctx, collab.Credentials{
			Endpoint:       "ws://collab.test",
			Token:          "t",
			OrganizationID: "o",
			DocumentID:     "d",
		})
	}()

	server := <-conns
	if _, err := server.Receive(ctx); err != nil {
		t.Fatalf("expected hello: %v", err)
	}
	snap, _ := protocol.Encode(&protocol.Snapshot{Text: "hello world\n"})
	if err := server.Send(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !c.IsConnected() || c.NativeText() != "hello world\n" {
		t.Fatalf("expected snapshot applied, got %s %q", c.State(), c.NativeText())
	}

	c.SelectionChanged(presPtr(6, 11))
	rec.sels = nil

	remote, _ := protocol.Encode(&protocol.Remote{Ops: []ot.Operation{
		{Origin: "peer", Seq: 1, Range: coords.NativeCaret(0), Text: "big "},
	}})
	if err := server.Send(ctx, remote); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if got := c.NativeText(); got != "big hello world\n" {
		t.Errorf("expected remote insert applied, got %q", got)
	}
	if got := c.NativeSelection(); got == nil || *got != coords.Native(10, 15) {
		t.Errorf("expected selection shifted to n[10:15), got %v", got)
	}
	if len(rec.sels) != 1 || *rec.sels[0] != coords.Presentation(10, 15) {
		t.Errorf("expected selection pushed, got %v", rec.sels)
	}

	c.Disconnect()
	if c.State() != collab.Closed || c.NativeText() != "big hello world\n" {
		t.Errorf("expected closed with text kept, got %s %q", c.State(), c.NativeText())
	}
}

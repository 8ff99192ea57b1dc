package theme

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/document"
)

func block(kind document.Kind, level int) document.Block {
	return document.Block{Kind: kind, Level: level, Range: coords.Native(0, 10)}
}

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()

	tests := []struct {
		name string
		b    document.Block
		sc   SizeClass
		want Spacing
	}{
		{"paragraph", block(document.Paragraph, 0), Regular, Spacing{MarginBottom: 12}},
		{"paragraph compact", block(document.Paragraph, 0), Compact, Spacing{MarginBottom: 8}},
		{"level one heading", block(document.Heading, 1), Regular, Spacing{MarginTop: 24, MarginBottom: 16}},
		{"level three heading", block(document.Heading, 3), Regular, Spacing{MarginTop: 16, MarginBottom: 12}},
		{"nested list", block(document.ListItem, 2), Regular, Spacing{MarginBottom: 4, Indent: 48}},
		{"compact falls back per kind", block(document.CodeFence, 0), Compact, Spacing{MarginTop: 8, MarginBottom: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tbl.BlockSpacing(tt.b, tt.sc); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.toml")
	data := `
name = "airy"

[regular.default]
margin_bottom = 20

[regular.quote]
margin_bottom = 10
indent = 5

[compact.default]
margin_bottom = 6
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if tbl.Name != "airy" {
		t.Errorf("expected name airy, got %q", tbl.Name)
	}
	if got := tbl.BlockSpacing(block(document.Quote, 2), Regular); got != (Spacing{MarginBottom: 10, Indent: 10}) {
		t.Errorf("unexpected quote spacing %+v", got)
	}
	if got := tbl.BlockSpacing(block(document.Heading, 1), Compact); got.MarginBottom != 6 {
		t.Errorf("expected compact default 6, got %+v", got)
	}
}

func TestParseTableError(t *testing.T) {
	_, err := ParseTable([]byte("[regular\n"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

func TestScript(t *testing.T) {
	src := `
function block_spacing(block, size_class)
  local bottom = 10
  if block.kind == "heading" then
    bottom = 30 - block.level * 4
  end
  if size_class == "compact" then
    bottom = bottom / 2
  end
  return { margin_bottom = bottom, indent = block.level }
end
`
	s, err := NewScript(src)
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	defer s.Close()

	if got := s.BlockSpacing(block(document.Heading, 2), Regular); got != (Spacing{MarginBottom: 22, Indent: 2}) {
		t.Errorf("unexpected heading spacing %+v", got)
	}
	if got := s.BlockSpacing(block(document.Paragraph, 0), Compact); got.MarginBottom != 5 {
		t.Errorf("expected 5, got %+v", got)
	}
	if len(s.cache) != 2 {
		t.Errorf("expected 2 cached entries, got %d", len(s.cache))
	}
}

func TestScriptPositionDependent(t *testing.T) {
	s, err := NewScript(`
function block_spacing(block, size_class)
  return { margin_top = block.length, margin_bottom = block.start }
end
`)
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	defer s.Close()

	first := document.Block{Kind: document.Paragraph, Range: coords.Native(0, 5)}
	later := document.Block{Kind: document.Paragraph, Range: coords.Native(40, 45)}
	if got := s.BlockSpacing(first, Regular); got != (Spacing{MarginTop: 5, MarginBottom: 0}) {
		t.Errorf("unexpected first spacing %+v", got)
	}
	if got := s.BlockSpacing(later, Regular); got != (Spacing{MarginTop: 5, MarginBottom: 40}) {
		t.Errorf("expected margin_bottom 40 for the later block, got %+v", got)
	}
	if got := s.BlockSpacing(first, Regular); got.MarginBottom != 0 {
		t.Errorf("expected cached 0 for the first block, got %+v", got)
	}
}

func TestScriptCacheBounded(t *testing.T) {
	s, err := NewScript(`function block_spacing(block, sc) return { indent = block.start } end`)
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < maxScriptCache+10; i++ {
		b := document.Block{Kind: document.Paragraph, Range: coords.Native(i, i+1)}
		if got := s.BlockSpacing(b, Regular); got.Indent != float64(i) {
			t.Fatalf("expected indent %d, got %+v", i, got)
		}
	}
	if len(s.cache) > maxScriptCache {
		t.Errorf("expected at most %d cached entries, got %d", maxScriptCache, len(s.cache))
	}
}

func TestScriptFallback(t *testing.T) {
	s, err := NewScript(`function block_spacing(block, sc) return 42 end`)
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	defer s.Close()

	want := DefaultTable().BlockSpacing(block(document.Paragraph, 0), Regular)
	if got := s.BlockSpacing(block(document.Paragraph, 0), Regular); got != want {
		t.Errorf("expected fallback %+v, got %+v", want, got)
	}
}

func TestScriptErrors(t *testing.T) {
	if _, err := NewScript(`x = 1`); !errors.Is(err, ErrNoSpacingFunction) {
		t.Errorf("expected ErrNoSpacingFunction, got %v", err)
	}
	if _, err := NewScript(`function (`); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := NewScript(`os.exit(1)`); err == nil {
		t.Error("expected os to be unavailable")
	}
}

func TestLookupOf(t *testing.T) {
	if got := LookupOf(nil)(block(document.Heading, 1), Regular); got != (Spacing{}) {
		t.Errorf("expected zero spacing, got %+v", got)
	}
	if got := LookupOf(DefaultTable())(block(document.Heading, 1), Regular); got.MarginTop != 24 {
		t.Errorf("expected 24, got %+v", got)
	}
}

package theme

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/foldtext/internal/document"
)

// Entry is one row of a spacing table. Indent is applied once per level
// for lists and quotes.
type Entry struct {
	MarginTop    float64 `toml:"margin_top"`
	MarginBottom float64 `toml:"margin_bottom"`
	Indent       float64 `toml:"indent"`
}

// Table maps block kinds to spacing, per size class. Keys are kind names
// ("heading", "list-item", ...), optionally suffixed with a level
// ("heading1"). The "default" key applies to anything else. A missing
// compact entry falls back to the regular one.
type Table struct {
	Name    string           `toml:"name"`
	Regular map[string]Entry `toml:"regular"`
	Compact map[string]Entry `toml:"compact"`
}

// DefaultTable returns the built-in theme.
func DefaultTable() *Table {
	return &Table{
		Name: "default",
		Regular: map[string]Entry{
			"default":        {MarginBottom: 12},
			"heading1":       {MarginTop: 24, MarginBottom: 16},
			"heading":        {MarginTop: 16, MarginBottom: 12},
			"list-item":      {MarginBottom: 4, Indent: 24},
			"quote":          {MarginBottom: 8, Indent: 16},
			"code-fence":     {MarginTop: 8, MarginBottom: 16},
			"thematic-break": {MarginTop: 16, MarginBottom: 16},
		},
		Compact: map[string]Entry{
			"default":   {MarginBottom: 8},
			"heading1":  {MarginTop: 16, MarginBottom: 12},
			"heading":   {MarginTop: 12, MarginBottom: 8},
			"list-item": {MarginBottom: 2, Indent: 16},
			"quote":     {MarginBottom: 6, Indent: 12},
		},
	}
}

// ParseTable decodes a TOML spacing table.
func ParseTable(data []byte) (*Table, error) {
	return decodeTable("<data>", data)
}

// LoadTable reads a TOML spacing table from a file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme %s: %w", path, err)
	}
	return decodeTable(path, data)
}

func decodeTable(source string, data []byte) (*Table, error) {
	var t Table
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	if t.Name == "" {
		t.Name = source
	}
	return &t, nil
}

// BlockSpacing implements Theme.
func (t *Table) BlockSpacing(b document.Block, sc SizeClass) Spacing {
	e, ok := t.entry(b, sc)
	if !ok {
		return Spacing{}
	}
	s := Spacing{MarginTop: e.MarginTop, MarginBottom: e.MarginBottom, Indent: e.Indent}
	if b.Kind == document.ListItem || b.Kind == document.Quote {
		s.Indent = e.Indent * float64(max(b.Level, 1))
	}
	return s
}

func (t *Table) entry(b document.Block, sc SizeClass) (Entry, bool) {
	keys := []string{b.Kind.String() + strconv.Itoa(b.Level), b.Kind.String(), "default"}
	tables := []map[string]Entry{t.Regular}
	if sc == Compact {
		tables = []map[string]Entry{t.Compact, t.Regular}
	}
	for _, k := range keys {
		for _, tbl := range tables {
			if e, ok := tbl[k]; ok {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Package theme supplies block spacing to the layout surface.
//
// Spacing depends on the block kind and on the horizontal size class of the
// view. Themes come from a TOML table or from a Lua script defining a
// block_spacing function.
package theme

import (
	"github.com/dshills/foldtext/internal/document"
)

// SizeClass is the horizontal size class of the hosting view.
type SizeClass uint8

const (
	// Regular is the default, wide layout.
	Regular SizeClass = iota

	// Compact is a narrow layout.
	Compact
)

// String returns a human-readable representation of the size class.
func (s SizeClass) String() string {
	switch s {
	case Regular:
		return "regular"
	case Compact:
		return "compact"
	default:
		return "unknown"
	}
}

// ParseSizeClass converts a size class name. Unknown names give Regular.
func ParseSizeClass(name string) SizeClass {
	if name == Compact.String() {
		return Compact
	}
	return Regular
}

// Spacing is the margin around one block, in points.
type Spacing struct {
	MarginTop    float64
	MarginBottom float64
	Indent       float64
}

// Lookup returns the spacing for a block.
type Lookup func(b document.Block, sc SizeClass) Spacing

// Theme is implemented by every spacing source.
type Theme interface {
	BlockSpacing(b document.Block, sc SizeClass) Spacing
}

// LookupOf adapts a Theme to a Lookup. A nil theme gives zero spacing.
func LookupOf(t Theme) Lookup {
	if t == nil {
		return func(document.Block, SizeClass) Spacing { return Spacing{} }
	}
	return t.BlockSpacing
}

package fold

import "github.com/dshills/foldtext/internal/coords"

// Strategy decides which native range to invalidate when fold membership
// changes for a set of indices. Implementations must return a range that
// covers every changed index.
type Strategy interface {
	// Name identifies the strategy in configuration and logs.
	Name() string

	// Invalidation returns the range to invalidate, or false when nothing
	// changed.
	Invalidation(changed coords.IndexSet, docLen int) (coords.NativeRange, bool)
}

// WholeDocument invalidates the entire document on any membership change.
// It is the simplest correct strategy and trades layout work for never
// having to reason about ranges.
type WholeDocument struct{}

// Name implements Strategy.
func (WholeDocument) Name() string { return "document" }

// Invalidation implements Strategy.
func (WholeDocument) Invalidation(changed coords.IndexSet, docLen int) (coords.NativeRange, bool) {
	if changed.IsEmpty() {
		return coords.NativeRange{}, false
	}
	bounds, _ := changed.Bounds()
	return coords.Native(0, max(docLen, bounds.End)), true
}

// MinimalRange invalidates the smallest single range covering every index
// whose membership changed.
type MinimalRange struct{}

// Name implements Strategy.
func (MinimalRange) Name() string { return "minimal" }

// Invalidation implements Strategy.
func (MinimalRange) Invalidation(changed coords.IndexSet, _ int) (coords.NativeRange, bool) {
	return changed.Bounds()
}

// StrategyByName returns the strategy with the given name, defaulting to
// MinimalRange for unknown names.
func StrategyByName(name string) Strategy {
	switch name {
	case WholeDocument{}.Name():
		return WholeDocument{}
	default:
		return MinimalRange{}
	}
}

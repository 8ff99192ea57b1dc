package editor

import (
	"sort"
	"sync"

	"github.com/dshills/foldtext/internal/coords"
)

// Invalidation asks a surface to lay out part of the presentation again.
type Invalidation struct {
	// Range is in presentation coordinates of the current text.
	Range coords.PresentationRange

	// Text is set when the text in Range changed, as opposed to only fold
	// membership.
	Text bool

	// Unfolding is set when hidden syntax was just revealed. The surface
	// should call LayoutCompleted once it has laid the range out.
	Unfolding bool
}

// Surface lays out the presentation text. Methods are called with the
// controller's lock held and must not call back into the controller.
type Surface interface {
	Invalidate(inv Invalidation)
}

// SelectionSink is implemented by surfaces that display the selection.
// The controller pushes the presentation selection after remote edits and
// after a fold change moved it.
type SelectionSink interface {
	SetSelection(p *coords.PresentationRange)
}

// SurfaceFunc adapts a function to a Surface.
type SurfaceFunc func(inv Invalidation)

// Invalidate implements Surface.
func (f SurfaceFunc) Invalidate(inv Invalidation) {
	f(inv)
}

// Registry holds surfaces by id. The controller never owns a surface: an
// id that is no longer registered is skipped.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]Surface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{surfaces: make(map[string]Surface)}
}

// Register adds or replaces a surface.
func (r *Registry) Register(id string, s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces[id] = s
}

// Unregister removes a surface. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.surfaces, id)
}

// Lookup returns the surface registered under id.
func (r *Registry) Lookup(id string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	return s, ok
}

// Len returns the number of registered surfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces)
}

// Each calls fn for every surface in id order. fn runs without the
// registry lock, so it may register or unregister surfaces.
func (r *Registry) Each(fn func(id string, s Surface)) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if s, ok := r.Lookup(id); ok {
			fn(id, s)
		}
	}
}

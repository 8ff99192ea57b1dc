// Package selection owns the canonical selection, kept in native
// coordinates, and translates it to and from presentation coordinates on
// demand through the current range map.
//
// The synchronizer never caches a presentation selection: every query maps
// the native selection through whatever map is current, so fold changes
// are reflected immediately.
package selection

import (
	"time"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/rangemap"
)

// Mapper returns the current range map. It may return nil, in which case
// coordinates pass through unchanged.
type Mapper func() *rangemap.Map

// Synchronizer holds the selection and the re-entrancy guard. It is not
// safe for concurrent use; the editor serializes access.
type Synchronizer struct {
	native *coords.NativeRange
	mapper Mapper
	guard  *Guard

	timeout time.Duration
	now     func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithGuardTimeout sets how long an armed guard waits for its notification.
func WithGuardTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.timeout = d
	}
}

// WithClock sets the time source used by the guard.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Synchronizer with no selection.
func New(mapper Mapper, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		mapper:  mapper,
		timeout: DefaultGuardTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.guard = NewGuard(s.timeout, s.now)
	return s
}

func (s *Synchronizer) currentMap() *rangemap.Map {
	if s.mapper == nil {
		return nil
	}
	return s.mapper()
}

// NativeSelection returns the canonical selection, or nil when unfocused.
func (s *Synchronizer) NativeSelection() *coords.NativeRange {
	if s.native == nil {
		return nil
	}
	r := *s.native
	return &r
}

// SetNativeSelection replaces the canonical selection.
func (s *Synchronizer) SetNativeSelection(r *coords.NativeRange) {
	if r == nil {
		s.native = nil
		return
	}
	v := *r
	if m := s.currentMap(); m != nil {
		v = v.Clamp(m.NativeLen())
	}
	s.native = &v
}

// SetPresentationSelection sets the selection from presentation
// coordinates. nil clears it.
func (s *Synchronizer) SetPresentationSelection(p *coords.PresentationRange) {
	if p == nil {
		s.native = nil
		return
	}
	var n coords.NativeRange
	if m := s.currentMap(); m != nil {
		n = m.ToNative(*p)
	} else {
		n = coords.Native(p.Start, p.End)
	}
	s.native = &n
}

// CurrentPresentationSelection returns the selection mapped through the
// current range map, or nil when unfocused.
func (s *Synchronizer) CurrentPresentationSelection() *coords.PresentationRange {
	if s.native == nil {
		return nil
	}
	var p coords.PresentationRange
	if m := s.currentMap(); m != nil {
		p = m.ToPresentation(*s.native)
	} else {
		p = coords.Presentation(s.native.Start, s.native.End)
	}
	return &p
}

// OnDocumentEdit moves the selection across a local edit. A selection
// inside the replaced range becomes a caret after the inserted text;
// anything else shifts like it would for a remote edit.
func (s *Synchronizer) OnDocumentEdit(op ot.Operation) {
	if s.native == nil {
		return
	}
	if op.Range.ContainsRange(*s.native) {
		end := op.Range.Start + op.TextLen()
		r := coords.NativeCaret(end)
		s.native = &r
		return
	}
	s.OnRemoteOperationApplied(op)
}

// OnRemoteOperationApplied shifts the selection across an edit made by
// someone else. Insertions at or before the selection start move both
// endpoints, deletions collapse the portion they cover.
func (s *Synchronizer) OnRemoteOperationApplied(op ot.Operation) {
	if s.native == nil {
		return
	}
	r := ot.TransformRange(*s.native, op)
	s.native = &r
}

// BeginLocalEdit arms the guard before the editor changes text itself.
func (s *Synchronizer) BeginLocalEdit() {
	s.guard.Arm()
}

// SelectionChanged handles a selection notification from the layout
// surface. It returns false when the notification was the echo of a local
// edit and was ignored.
func (s *Synchronizer) SelectionChanged(p *coords.PresentationRange) bool {
	if s.guard.Consume() {
		return false
	}
	s.SetPresentationSelection(p)
	return true
}

// ResetGuard returns the guard to Idle.
func (s *Synchronizer) ResetGuard() {
	s.guard.Reset()
}

// GuardState returns the current guard state.
func (s *Synchronizer) GuardState() GuardState {
	return s.guard.State()
}

package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/foldtext/internal/collab"
	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/document"
	"github.com/dshills/foldtext/internal/fold"
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/rangemap"
	"github.com/dshills/foldtext/internal/selection"
	"github.com/dshills/foldtext/internal/theme"
)

// Controller owns one document and everything derived from it.
type Controller struct {
	mu sync.Mutex

	doc     *document.Model
	folds   *fold.Engine
	rmap    *rangemap.Map
	sel     *selection.Synchronizer
	session *collab.Session

	surfaces  *Registry
	spacing   theme.Lookup
	sizeClass theme.SizeClass
	logger    *slog.Logger

	strategy     fold.Strategy
	guardTimeout time.Duration
	sessionOpts  []collab.Option
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. It is also handed to the session.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTheme sets the block spacing lookup.
func WithTheme(t theme.Theme) Option {
	return func(c *Controller) {
		c.spacing = theme.LookupOf(t)
	}
}

// WithSizeClass sets the initial horizontal size class.
func WithSizeClass(sc theme.SizeClass) Option {
	return func(c *Controller) {
		c.sizeClass = sc
	}
}

// WithFoldStrategy sets the fold invalidation strategy.
func WithFoldStrategy(s fold.Strategy) Option {
	return func(c *Controller) {
		c.strategy = s
	}
}

// WithGuardTimeout sets how long a local edit suppresses the selection
// echo from the surface.
func WithGuardTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.guardTimeout = d
	}
}

// WithRegistry shares a surface registry.
func WithRegistry(r *Registry) Option {
	return func(c *Controller) {
		if r != nil {
			c.surfaces = r
		}
	}
}

// WithSessionOptions passes options to the collaboration session.
func WithSessionOptions(opts ...collab.Option) Option {
	return func(c *Controller) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// New creates a controller for text.
func New(text string, opts ...Option) *Controller {
	c := &Controller{
		surfaces:     NewRegistry(),
		spacing:      theme.LookupOf(theme.DefaultTable()),
		logger:       slog.New(slog.DiscardHandler),
		strategy:     fold.MinimalRange{},
		guardTimeout: selection.DefaultGuardTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.doc = document.New(text)
	c.folds = fold.NewEngine(fold.WithStrategy(c.strategy))
	c.folds.Reset(c.doc.Len())
	c.sel = selection.New(c.currentMap, selection.WithGuardTimeout(c.guardTimeout))

	sessionOpts := append([]collab.Option{collab.WithLogger(c.logger)}, c.sessionOpts...)
	c.session = collab.New(text, sessionOpts...)

	c.refold()
	c.flushFolds()
	return c
}

// currentMap is the selection's mapper. It runs under the lock.
func (c *Controller) currentMap() *rangemap.Map {
	return c.rmap
}

// Surfaces returns the surface registry.
func (c *Controller) Surfaces() *Registry {
	return c.surfaces
}

// Session returns the collaboration session. Callers must not use it
// concurrently with the controller.
func (c *Controller) Session() *collab.Session {
	return c.session
}

// Connect joins a collaboration channel. It blocks until the snapshot is
// applied or the attempt fails, and does not hold the lock while waiting.
func (c *Controller) Connect(ctx context.Context, creds collab.Credentials) error {
	c.mu.Lock()
	attempt, err := c.session.Begin(creds)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.session.Dial(ctx, attempt)

	c.mu.Lock()
	defer c.mu.Unlock()
	up, err := c.session.Finish(attempt)
	c.applyUpdate(up)
	return err
}

// Disconnect closes the collaboration session. The document is left as
// it is.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Disconnect()
}

// State returns the session state.
func (c *Controller) State() collab.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State()
}

// IsConnected returns true if the session is connected.
func (c *Controller) IsConnected() bool {
	return c.State() == collab.Connected
}

// Step waits for one session event and applies it. It returns ctx.Err()
// when ctx ends first; other errors describe the event and are not fatal.
func (c *Controller) Step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-c.session.Events():
		c.mu.Lock()
		defer c.mu.Unlock()
		up, err := c.session.Handle(ev)
		c.applyUpdate(up)
		return err
	}
}

// Run applies session events until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	for {
		err := c.Step(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("session event", "error", err)
	}
}

// ReplacePresentation replaces a presentation range with text typed by
// the user. The edit is applied locally and queued for collaborators.
func (c *Controller) ReplacePresentation(r coords.PresentationRange, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	native := c.rmap.ToNative(r.Clamp(c.rmap.PresentationLen()))
	op := ot.NewReplace(native, text)
	c.sel.BeginLocalEdit()
	if err := c.apply(op, true); err != nil {
		c.sel.ResetGuard()
		return err
	}
	c.session.Submit(op)
	return nil
}

// ReplaceNative replaces a native range, for callers working on the
// markup directly.
func (c *Controller) ReplaceNative(r coords.NativeRange, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := ot.NewReplace(r, text)
	if err := c.apply(op, true); err != nil {
		return err
	}
	c.session.Submit(op)
	return nil
}

// SelectionChanged handles a selection notification from a surface. It
// returns false when the notification echoed a local edit and was
// ignored.
func (c *Controller) SelectionChanged(p *coords.PresentationRange) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sel.SelectionChanged(p) {
		return false
	}
	change := c.folds.SetUnfoldedRange(c.unfoldedRange())
	if !change.Changed.IsEmpty() {
		c.rmap = rangemap.New(c.folds.FoldedIndices(), c.doc.Len())
	}
	c.flushFolds()
	return true
}

// LayoutCompleted is called by a surface when it finished laying out after
// an invalidation. It returns true if fold changes were laid out, in which
// case the selection was pushed to every SelectionSink again.
func (c *Controller) LayoutCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.folds.LayoutCompleted() {
		return false
	}
	c.pushSelection()
	return true
}

// SetHorizontalSizeClass changes the size class. Spacing depends on it, so
// the whole presentation is invalidated.
func (c *Controller) SetHorizontalSizeClass(sc theme.SizeClass) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sc == c.sizeClass {
		return
	}
	c.sizeClass = sc
	c.notify(Invalidation{Range: coords.Presentation(0, c.rmap.PresentationLen())})
}

// HorizontalSizeClass returns the current size class.
func (c *Controller) HorizontalSizeClass() theme.SizeClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeClass
}

// BlockAt returns the block at a presentation location.
func (c *Controller) BlockAt(p int) (document.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockAtPresentation(p)
}

func (c *Controller) blockAtPresentation(p int) (document.Block, bool) {
	if p < 0 || p >= c.rmap.PresentationLen() {
		return document.Block{}, false
	}
	return c.doc.BlockAt(c.rmap.NativeIndex(p))
}

// BlockSpacing returns the spacing of the block at a presentation
// location, or zero spacing outside the text.
func (c *Controller) BlockSpacing(p int) theme.Spacing {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.blockAtPresentation(p)
	if !ok || c.spacing == nil {
		return theme.Spacing{}
	}
	return c.spacing(b, c.sizeClass)
}

// CurrentPresentationSelection returns the selection in presentation
// coordinates, or nil when unfocused.
func (c *Controller) CurrentPresentationSelection() *coords.PresentationRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.CurrentPresentationSelection()
}

// NativeSelection returns the canonical selection.
func (c *Controller) NativeSelection() *coords.NativeRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.NativeSelection()
}

// PresentationText returns the text with folded syntax removed.
func (c *Controller) PresentationText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rmap.Presentation(c.doc.Runes())
}

// NativeText returns the markup text.
func (c *Controller) NativeText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Text()
}

// Blocks returns the parsed blocks.
func (c *Controller) Blocks() []document.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Blocks()
}

// FoldedIndices returns the hidden native indices.
func (c *Controller) FoldedIndices() coords.IndexSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folds.FoldedIndices()
}

// ToPresentation maps a native range through the current folds.
func (c *Controller) ToPresentation(r coords.NativeRange) coords.PresentationRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rmap.ToPresentation(r)
}

// ToNative maps a presentation range through the current folds.
func (c *Controller) ToNative(r coords.PresentationRange) coords.NativeRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rmap.ToNative(r)
}

// applyUpdate applies the operations a session call produced. They are
// defined against the document's current text; a failure means the two
// diverged, and the document is reloaded from the session.
func (c *Controller) applyUpdate(up collab.Update) {
	for i, op := range up.Ops {
		if err := c.apply(op, false); err != nil {
			c.logger.Error("session operation does not fit document, reloading",
				"op", op.String(), "index", i, "error", err)
			c.reload(c.session.LocalText())
			return
		}
	}
	if len(up.Ops) > 0 {
		c.pushSelection()
	}
	if up.StateChanged {
		c.logger.Info("session state", "state", c.session.State().String())
	}
}

// apply runs one operation through the mutation pipeline.
func (c *Controller) apply(op ot.Operation, local bool) error {
	res, err := c.doc.Apply(op)
	if err != nil {
		return err
	}
	c.folds.ApplyEdit(op.Range.Start, op.Range.End, op.Range.Start+op.TextLen())
	if local {
		c.sel.OnDocumentEdit(op)
	} else {
		c.sel.OnRemoteOperationApplied(op)
	}

	c.refold()
	c.notify(Invalidation{Range: c.rmap.ToPresentation(res.Affected), Text: true})
	c.flushFolds()
	return nil
}

func (c *Controller) reload(text string) {
	c.doc.Reset(text)
	c.folds.Reset(c.doc.Len())
	c.rmap = rangemap.Identity(c.doc.Len())
	// Clamps the selection to the new length.
	c.sel.SetNativeSelection(c.sel.NativeSelection())
	c.refold()
	c.flushFolds()
	c.pushSelection()
}

// refold recomputes foldable ranges, the unfolded range and the map.
func (c *Controller) refold() {
	c.folds.SetFoldableRanges(c.doc.FoldableRanges())
	c.folds.SetUnfoldedRange(c.unfoldedRange())
	c.rmap = rangemap.New(c.folds.FoldedIndices(), c.doc.Len())
}

// unfoldedRange covers the blocks under the selection.
func (c *Controller) unfoldedRange() *coords.NativeRange {
	s := c.sel.NativeSelection()
	if s == nil || c.doc.BlockCount() == 0 {
		return nil
	}
	first, ok := c.blockNear(s.Start)
	if !ok {
		return nil
	}
	last, ok := c.blockNear(max(s.End-1, s.Start))
	if !ok {
		return nil
	}
	r := first.Range.Union(last.Range)
	return &r
}

// blockNear returns the block containing i, or the last block when i is
// at the end of the text.
func (c *Controller) blockNear(i int) (document.Block, bool) {
	if b, ok := c.doc.BlockAt(i); ok {
		return b, true
	}
	if i >= c.doc.Len() && c.doc.BlockCount() > 0 {
		blocks := c.doc.Blocks()
		return blocks[len(blocks)-1], true
	}
	return document.Block{}, false
}

// flushFolds hands pending fold invalidation to the surfaces.
func (c *Controller) flushFolds() {
	pending := c.folds.PendingInvalidation()
	if pending == nil {
		return
	}
	c.notify(Invalidation{
		Range:     c.rmap.ToPresentation(pending.Clamp(c.doc.Len())),
		Unfolding: c.folds.IsUnfolding(),
	})
	c.folds.MarkInvalidated()
}

func (c *Controller) notify(inv Invalidation) {
	c.surfaces.Each(func(_ string, s Surface) {
		s.Invalidate(inv)
	})
}

func (c *Controller) pushSelection() {
	p := c.sel.CurrentPresentationSelection()
	c.surfaces.Each(func(_ string, s Surface) {
		if sink, ok := s.(SelectionSink); ok {
			sink.SetSelection(p)
		}
	})
}

// IsRetryable reports whether a Connect error leaves the session retrying
// in the background.
func IsRetryable(err error) bool {
	return errors.Is(err, collab.ErrNetwork) || errors.Is(err, collab.ErrProtocol)
}

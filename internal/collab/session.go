// Package collab implements the client side of a collaboration session.
//
// A Session owns the connection lifecycle and the queues of unconfirmed
// local operations. It never touches the document directly: every method
// that changes replica state returns an Update listing the operations the
// owner must apply to its local text, in order, so the owner's text always
// equals the session's view of it.
//
// Concurrency follows a single-owner model. The owner (the editor
// controller) calls every exported method while holding its own lock,
// except Dial, which performs network I/O and must be called without it.
// The session's goroutines (channel reader, channel writer and reconnect
// loop) never mutate state; they post Events which the owner drains from
// Events() and passes to Handle.
package collab

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/dshills/foldtext/internal/collab/channel"
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/protocol"
)

// Config holds session timing and queue sizes.
type Config struct {
	// HandshakeTimeout bounds dialing plus waiting for the snapshot.
	HandshakeTimeout time.Duration

	// InitialBackoff is the first reconnect delay.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64

	// MaxElapsed stops retrying after this long. Zero retries forever.
	MaxElapsed time.Duration

	// OutboxSize is the number of frames queued for the writer.
	OutboxSize int

	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		OutboxSize:        64,
		EventBuffer:       256,
	}
}

// Update describes what a session call changed.
type Update struct {
	// Ops turn the previous local text into the new one. Apply in order.
	Ops []ot.Operation

	// StateChanged is set when the connection state moved.
	StateChanged bool
}

type eventKind uint8

const (
	evEstablished eventKind = iota
	evFailed
	evFrame
	evLinkDown
)

// Event is posted by the session's goroutines for the owner to Handle.
type Event struct {
	kind eventKind
	run  uint64
	link uint64
	ch   channel.Channel
	snap *protocol.Snapshot
	msg  protocol.Message
	err  error
}

// Attempt is an in-progress connect request.
type Attempt struct {
	run   uint64
	ctx   context.Context
	creds Credentials
	url   string

	ch   channel.Channel
	snap *protocol.Snapshot
	err  error
}

type link struct {
	id     uint64
	ch     channel.Channel
	outbox chan []byte
	cancel context.CancelFunc
}

// Session is the client side of one collaboration channel.
type Session struct {
	cfg      Config
	dialer   channel.Dialer
	logger   *slog.Logger
	clientID string
	events   chan Event

	// Owned by the caller's lock.
	state     State
	creds     Credentials
	url       string
	rep       *replica
	link      *link
	linkSeq   uint64
	refetch   bool
	retrying  bool
	run       uint64
	runCtx    context.Context
	runCancel context.CancelFunc

	// helloMu guards the values a reconnect handshake reads.
	helloMu    sync.Mutex
	helloSeq   uint64
	helloBatch uint64
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithDialer sets the channel dialer.
func WithDialer(d channel.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithPolicy sets the rebase policy. Clients and the server must agree.
func WithPolicy(p ot.Policy) Option {
	return func(s *Session) {
		s.rep.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClientID sets the id the server uses to recognize this client
// across reconnects.
func WithClientID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.clientID = id
		}
	}
}

// New creates a disconnected session over text, the current local text.
func New(text string, opts ...Option) *Session {
	s := &Session{
		cfg:      DefaultConfig(),
		logger:   slog.New(slog.DiscardHandler),
		clientID: uuid.NewString(),
		rep:      newReplica(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rep.policy == nil {
		s.rep.policy = ot.DefaultPolicy
	}
	if s.dialer == nil {
		s.dialer = channel.NewWebSocketDialer(s.cfg.HandshakeTimeout)
	}
	if s.cfg.EventBuffer <= 0 {
		s.cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if s.cfg.OutboxSize <= 0 {
		s.cfg.OutboxSize = DefaultConfig().OutboxSize
	}
	s.events = make(chan Event, s.cfg.EventBuffer)
	s.rep.load(text)
	s.logger = s.logger.With("client", s.clientID)
	return s
}

// Events returns the channel the owner drains and passes to Handle.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the connection state.
func (s *Session) State() State {
	return s.state
}

// IsConnected returns true if the session is Connected.
func (s *Session) IsConnected() bool {
	return s.state == Connected
}

// ClientID returns the id sent in every hello.
func (s *Session) ClientID() string {
	return s.clientID
}

// Seq returns the last confirmed sequence number.
func (s *Session) Seq() uint64 {
	return s.rep.seq
}

// Outstanding returns the number of unconfirmed local operations.
func (s *Session) Outstanding() int {
	return s.rep.outstanding()
}

// LocalText returns the text the owner's document must hold.
func (s *Session) LocalText() string {
	return string(s.rep.local())
}

// Submit queues a local operation the owner already applied. It never
// blocks; the batch is handed to the writer goroutine.
func (s *Session) Submit(op ot.Operation) {
	s.rep.submit(op)
	s.flush()
}

// Begin starts a connect request and moves to Connecting.
func (s *Session) Begin(creds Credentials) (*Attempt, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	u, err := creds.URL()
	if err != nil {
		return nil, err
	}
	if s.state == Connecting || s.state == Connected {
		return nil, ErrAlreadyConnected
	}

	s.cancelRun()
	s.run++
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.creds = creds
	s.url = u
	s.refetch = false
	s.state = Connecting
	s.logger.Info("connecting", "url", u, "document", creds.DocumentID)

	return &Attempt{run: s.run, ctx: s.runCtx, creds: creds, url: u}, nil
}

// Dial performs the handshake for an attempt. It blocks and must be
// called without the owner's lock. A Disconnect issued meanwhile cancels
// it.
func (s *Session) Dial(ctx context.Context, a *Attempt) {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	a.ch, a.snap, a.err = s.handshake(dctx, a.url, a.creds)
}

// Finish completes a connect request after Dial.
func (s *Session) Finish(a *Attempt) (Update, error) {
	if a.run != s.run || s.state != Connecting {
		if a.ch != nil {
			_ = a.ch.Close()
		}
		return Update{}, &ConnectError{Endpoint: a.creds.Endpoint, Err: ErrClosed}
	}
	if a.err != nil {
		s.fail(a.err)
		return Update{StateChanged: true}, &ConnectError{Endpoint: a.creds.Endpoint, Err: a.err}
	}
	up, err := s.establish(a.ch, a.snap)
	if err != nil {
		return up, &ConnectError{Endpoint: a.creds.Endpoint, Err: err}
	}
	return up, nil
}

// Disconnect closes the session. The local text is left as it is and
// outstanding edits are kept for a later connect.
func (s *Session) Disconnect() Update {
	if s.state == Closed {
		return Update{}
	}
	s.logger.Info("disconnecting")
	s.cancelRun()
	s.run++
	s.state = Closed
	return Update{StateChanged: true}
}

// Handle processes one event from Events.
func (s *Session) Handle(ev Event) (Update, error) {
	switch ev.kind {
	case evEstablished:
		if ev.run != s.run || s.state == Closed {
			_ = ev.ch.Close()
			return Update{}, nil
		}
		s.retrying = false
		s.logger.Info("reconnected", "seq", ev.snap.Seq)
		return s.establish(ev.ch, ev.snap)

	case evFailed:
		if ev.run != s.run || s.state == Closed {
			return Update{}, nil
		}
		s.retrying = false
		s.fail(ev.err)
		return Update{StateChanged: true}, ev.err

	case evLinkDown:
		if s.link == nil || ev.link != s.link.id {
			return Update{}, nil
		}
		s.logger.Warn("connection lost", "error", ev.err)
		s.disconnected(false)
		return Update{StateChanged: true}, ev.err

	case evFrame:
		if s.link == nil || ev.link != s.link.id {
			return Update{}, nil
		}
		return s.handleFrame(ev.msg, ev.err)
	}
	return Update{}, nil
}

func (s *Session) handleFrame(msg protocol.Message, decodeErr error) (Update, error) {
	if decodeErr != nil {
		s.logger.Warn("dropping malformed data", "error", decodeErr)
		if msg == nil {
			return Update{}, decodeErr
		}
	}

	var up Update
	var err error
	switch m := msg.(type) {
	case *protocol.Remote:
		for _, op := range m.Ops {
			ops, rerr := s.rep.applyRemote(op)
			if rerr != nil {
				err = rerr
				break
			}
			up.Ops = append(up.Ops, ops...)
		}
	case *protocol.Ack:
		if err = s.rep.ack(m); err == nil {
			s.flush()
		}
	case *protocol.ServerError:
		err = serverError(m)
	default:
		err = protocolErrorf("unexpected %s frame", msg.Type())
	}
	s.syncHello()

	if err != nil {
		switch {
		case errors.Is(err, ErrAuthFailure):
			s.logger.Error("server revoked access", "error", err)
			s.closeLocked()
		case errors.Is(err, ErrProtocol):
			s.logger.Warn("protocol mismatch, refetching snapshot", "error", err)
			s.disconnected(true)
		default:
			s.logger.Warn("server error", "error", err)
			s.disconnected(false)
		}
		up.StateChanged = true
		return up, err
	}
	if decodeErr != nil {
		return up, decodeErr
	}
	return up, nil
}

// establish adopts a snapshot from a fresh channel and brings the link up.
func (s *Session) establish(ch channel.Channel, snap *protocol.Snapshot) (Update, error) {
	ops, err := s.rep.reconcile(snap, s.refetch)
	if err != nil {
		_ = ch.Close()
		s.logger.Warn("snapshot mismatch, refetching", "error", err)
		s.refetch = true
		s.state = Disconnected
		s.startRetry()
		return Update{StateChanged: true}, err
	}
	s.refetch = false

	s.linkSeq++
	ctx, cancel := context.WithCancel(s.runCtx)
	l := &link{
		id:     s.linkSeq,
		ch:     ch,
		outbox: make(chan []byte, s.cfg.OutboxSize),
		cancel: cancel,
	}
	s.link = l
	s.state = Connected
	go s.readLoop(ctx, l)
	go s.writeLoop(ctx, l)

	s.syncHello()
	s.flush()
	s.logger.Info("connected", "seq", snap.Seq, "outstanding", s.rep.outstanding())
	return Update{Ops: ops, StateChanged: true}, nil
}

// fail applies the state transition for a failed handshake.
func (s *Session) fail(err error) {
	switch {
	case errors.Is(err, ErrAuthFailure):
		s.logger.Error("authentication failed", "error", err)
		s.closeLocked()
	case errors.Is(err, ErrNotFound):
		s.logger.Error("document not found", "error", err)
		s.state = Disconnected
	case errors.Is(err, context.Canceled):
		s.state = Disconnected
	default:
		s.logger.Warn("connect failed, retrying", "error", err)
		if errors.Is(err, ErrProtocol) {
			s.refetch = true
		}
		s.state = Disconnected
		s.startRetry()
	}
}

func (s *Session) disconnected(refetch bool) {
	s.dropLink()
	if refetch {
		s.refetch = true
	}
	s.state = Disconnected
	s.startRetry()
}

func (s *Session) closeLocked() {
	s.cancelRun()
	s.run++
	s.state = Closed
}

func (s *Session) cancelRun() {
	s.dropLink()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	s.retrying = false
}

func (s *Session) dropLink() {
	if s.link == nil {
		return
	}
	s.link.cancel()
	_ = s.link.ch.Close()
	s.link = nil
}

// flush sends the buffer as a batch when connected and nothing is in
// flight.
func (s *Session) flush() {
	if s.state != Connected || s.link == nil {
		return
	}
	b := s.rep.takeBatch()
	if b == nil {
		return
	}
	frame, err := protocol.Encode(&protocol.Batch{ID: b.id, BaseSeq: b.baseSeq, Ops: b.ops})
	if err != nil {
		s.logger.Error("encode batch", "error", err)
		return
	}
	select {
	case s.link.outbox <- frame:
		s.logger.Debug("batch queued", "batch", b.id, "ops", len(b.ops), "base", b.baseSeq)
	default:
		// The batch stays in flight and is reconciled on reconnect.
		s.logger.Warn("outbox full, dropping connection", "batch", b.id)
		s.disconnected(false)
	}
}

func (s *Session) syncHello() {
	s.helloMu.Lock()
	s.helloSeq = s.rep.seq
	s.helloBatch = s.rep.lastAcked
	s.helloMu.Unlock()
}

func (s *Session) hello(creds Credentials) *protocol.Hello {
	s.helloMu.Lock()
	defer s.helloMu.Unlock()
	return &protocol.Hello{
		Token:          creds.Token,
		OrganizationID: creds.OrganizationID,
		DocumentID:     creds.DocumentID,
		ClientID:       s.clientID,
		LastSeq:        s.helloSeq,
		LastBatch:      s.helloBatch,
	}
}

func (s *Session) startRetry() {
	if s.retrying || s.state == Closed || s.runCtx == nil {
		return
	}
	s.retrying = true
	go s.retryLoop(s.runCtx, s.run, s.url, s.creds)
}

func (s *Session) post(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.Multiplier = s.cfg.BackoffMultiplier
	b.MaxElapsedTime = s.cfg.MaxElapsed
	b.Reset()
	return b
}

// retryLoop reconnects with exponential backoff until it succeeds, hits a
// terminal failure or the run is cancelled.
func (s *Session) retryLoop(ctx context.Context, run uint64, url string, creds Credentials) {
	b := s.newBackOff()
	for attempt := 1; ; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			s.post(ctx, Event{kind: evFailed, run: run, err: &networkError{err: errors.New("retry budget exhausted")}})
			return
		}
		s.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ch, snap, err := s.handshake(ctx, url, creds)
		if err == nil {
			s.post(ctx, Event{kind: evEstablished, run: run, ch: ch, snap: snap})
			if ctx.Err() != nil {
				_ = ch.Close()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrAuthFailure) || errors.Is(err, ErrNotFound) {
			s.post(ctx, Event{kind: evFailed, run: run, err: err})
			return
		}
		s.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
	}
}

func (s *Session) readLoop(ctx context.Context, l *link) {
	for {
		data, err := l.ch.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.post(ctx, Event{kind: evLinkDown, link: l.id, err: &networkError{err: err}})
			}
			return
		}
		msg, derr := protocol.Decode(data)
		s.post(ctx, Event{kind: evFrame, link: l.id, msg: msg, err: derr})
	}
}

func (s *Session) writeLoop(ctx context.Context, l *link) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-l.outbox:
			if err := l.ch.Send(ctx, frame); err != nil {
				if ctx.Err() == nil {
					s.post(ctx, Event{kind: evLinkDown, link: l.id, err: &networkError{err: err}})
				}
				return
			}
		}
	}
}

// handshake dials, sends hello and waits for the snapshot.
func (s *Session) handshake(ctx context.Context, url string, creds Credentials) (channel.Channel, *protocol.Snapshot, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}
	ch, err := s.dialer.Dial(hctx, url, header)
	if err != nil {
		return nil, nil, classifyDial(ctx, err)
	}

	frame, err := protocol.Encode(s.hello(creds))
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.Send(hctx, frame); err != nil {
		_ = ch.Close()
		return nil, nil, classifyDial(ctx, err)
	}

	data, err := ch.Receive(hctx)
	if err != nil {
		_ = ch.Close()
		return nil, nil, classifyDial(ctx, err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		_ = ch.Close()
		return nil, nil, protocolErrorf("handshake: %v", err)
	}
	switch m := msg.(type) {
	case *protocol.Snapshot:
		return ch, m, nil
	case *protocol.ServerError:
		_ = ch.Close()
		return nil, nil, serverError(m)
	default:
		_ = ch.Close()
		return nil, nil, protocolErrorf("handshake: expected snapshot, got %s", msg.Type())
	}
}

func classifyDial(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, channel.ErrUnauthorized):
		return errors.Join(ErrAuthFailure, err)
	case errors.Is(err, channel.ErrNotFound):
		return errors.Join(ErrNotFound, err)
	default:
		return &networkError{err: err}
	}
}

func serverError(e *protocol.ServerError) error {
	switch e.Code {
	case protocol.CodeAuth:
		return errors.Join(ErrAuthFailure, e)
	case protocol.CodeNotFound:
		return errors.Join(ErrNotFound, e)
	case protocol.CodeProtocol:
		return &ProtocolError{Reason: e.Message}
	default:
		return &networkError{err: e}
	}
}

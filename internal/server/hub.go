package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/foldtext/internal/collab/channel"
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/protocol"
	"github.com/dshills/foldtext/internal/server/ledger"
	"github.com/dshills/foldtext/internal/server/store"
)

// frame is one queued outbound message. The connection ends after a
// last frame is written.
type frame struct {
	data []byte
	last bool
}

// peer is one connected client of a hub.
type peer struct {
	id      string
	client  string
	ch      channel.Channel
	out     chan frame
	cancel  context.CancelFunc
	closing atomic.Bool
}

// Hub sequences the edits of one document. Every batch is rebased across
// the operations sequenced since the batch's base, applied, persisted and
// fanned out while the hub lock is held, so each peer's outbox sees
// frames in sequence order.
type Hub struct {
	key    store.Key
	store  store.Store
	ledger ledger.Ledger
	policy ot.Policy
	logger *slog.Logger

	historyLimit int
	outboxSize   int

	mu   sync.Mutex
	text []rune
	seq  uint64

	// history holds the operations with Seq in (histBase, seq].
	history  []ot.Operation
	histBase uint64

	peers map[string]*peer
}

// loadHub reads the document and as much of its log as the history
// window keeps.
func loadHub(ctx context.Context, key store.Key, cfg hubConfig) (*Hub, error) {
	doc, err := cfg.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if doc.Seq > uint64(cfg.historyLimit) {
		from = doc.Seq - uint64(cfg.historyLimit)
	}
	ops, err := cfg.store.Ops(ctx, key, from)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", key, err)
	}
	h := &Hub{
		key:          key,
		store:        cfg.store,
		ledger:       cfg.ledger,
		policy:       cfg.policy,
		logger:       cfg.logger.With("doc", key.String()),
		historyLimit: cfg.historyLimit,
		outboxSize:   cfg.outboxSize,
		text:         []rune(doc.Text),
		seq:          doc.Seq,
		history:      ops,
		histBase:     doc.Seq - uint64(len(ops)),
		peers:        make(map[string]*peer),
	}
	return h, nil
}

type hubConfig struct {
	store        store.Store
	ledger       ledger.Ledger
	policy       ot.Policy
	logger       *slog.Logger
	historyLimit int
	outboxSize   int
}

// Seq returns the current sequence number.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Text returns the current text.
func (h *Hub) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.text)
}

// Peers returns the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Serve runs one client connection until it ends. hello has already been
// authenticated. A second connection with the same client id replaces the
// first.
func (h *Hub) Serve(ctx context.Context, ch channel.Channel, hello *protocol.Hello) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &peer{
		id:     uuid.NewString(),
		client: hello.ClientID,
		ch:     ch,
		out:    make(chan frame, h.outboxSize),
		cancel: cancel,
	}
	if p.client == "" {
		p.client = p.id
	}
	if err := h.join(ctx, p); err != nil {
		sendError(ctx, ch, protocol.CodeInternal, err.Error())
		return err
	}
	defer h.leave(p)

	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writeLoop(ctx, p)
	}()
	err := h.readLoop(ctx, p)
	if p.closing.Load() {
		// Give the writer a chance to flush the error frame.
		select {
		case <-written:
		case <-time.After(writeTimeout):
		}
	}
	cancel()
	<-written
	_ = ch.Close()
	return err
}

func (h *Hub) join(ctx context.Context, p *peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	last, err := h.ledger.LastBatch(ctx, h.key, p.client)
	if err != nil {
		return err
	}
	snap, err := protocol.Encode(&protocol.Snapshot{Text: string(h.text), Seq: h.seq, LastBatch: last})
	if err != nil {
		return err
	}
	if old, ok := h.peers[p.client]; ok {
		h.logger.Info("replacing stale connection", "client", p.client, "conn", old.id)
		old.cancel()
		delete(h.peers, p.client)
	}
	p.out <- frame{data: snap}
	h.peers[p.client] = p
	h.logger.Info("client joined", "client", p.client, "conn", p.id, "seq", h.seq, "last_batch", last)
	return nil
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.peers[p.client]; ok && cur == p {
		delete(h.peers, p.client)
		h.logger.Info("client left", "client", p.client, "conn", p.id)
	}
}

func (h *Hub) readLoop(ctx context.Context, p *peer) error {
	for {
		data, err := p.ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// A partially valid batch cannot be applied: the client
			// already shows every operation in it.
			h.logger.Warn("malformed frame", "client", p.client, "error", err)
			h.reject(p, protocol.CodeProtocol, err.Error())
			return nil
		}
		b, ok := msg.(*protocol.Batch)
		if !ok {
			h.reject(p, protocol.CodeProtocol, fmt.Sprintf("unexpected %s frame", msg.Type()))
			return nil
		}
		if err := h.handleBatch(ctx, p, b); err != nil {
			return err
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.out:
			if err := p.ch.Send(ctx, f.data); err != nil || f.last {
				p.cancel()
				return
			}
		}
	}
}

// handleBatch sequences one batch. A returned error ends the connection.
func (h *Hub) handleBatch(ctx context.Context, p *peer, b *protocol.Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur := h.peers[p.client]; cur != p {
		return nil
	}

	last, err := h.ledger.LastBatch(ctx, h.key, p.client)
	if err != nil {
		h.rejectLocked(p, protocol.CodeInternal, "ledger unavailable")
		return err
	}
	if b.ID <= last {
		h.logger.Debug("dropping resent batch", "client", p.client, "batch", b.ID, "last", last)
		return nil
	}
	if b.BaseSeq > h.seq || b.BaseSeq < h.histBase {
		h.rejectLocked(p, protocol.CodeProtocol,
			fmt.Sprintf("batch %d base %d outside [%d, %d]", b.ID, b.BaseSeq, h.histBase, h.seq))
		return nil
	}

	ops := make([]ot.Operation, len(b.Ops))
	for i, op := range b.Ops {
		op.Origin = ot.Origin(p.client)
		ops[i] = op
	}
	for _, done := range h.history[b.BaseSeq-h.histBase:] {
		ops, _ = ot.RebaseSeq(h.policy, ops, done)
	}
	text, applied := ot.ApplyAllClamped(h.text, ops)
	for i := range applied {
		applied[i].Seq = h.seq + uint64(i) + 1
	}

	if err := h.store.Append(ctx, h.key, applied, string(text)); err != nil {
		h.logger.Error("persisting batch failed", "client", p.client, "batch", b.ID, "error", err)
		h.rejectLocked(p, protocol.CodeInternal, "storage unavailable")
		return err
	}
	if err := h.ledger.Record(ctx, h.key, p.client, b.ID); err != nil {
		h.logger.Warn("recording batch failed", "client", p.client, "batch", b.ID, "error", err)
	}

	h.text = text
	h.seq += uint64(len(applied))
	h.history = append(h.history, applied...)
	if over := len(h.history) - h.historyLimit; over > 0 {
		h.history = append([]ot.Operation(nil), h.history[over:]...)
		h.histBase += uint64(over)
	}
	h.logger.Debug("batch applied", "client", p.client, "batch", b.ID, "ops", len(applied), "seq", h.seq)

	ack, err := protocol.Encode(&protocol.Ack{BatchID: b.ID, Seq: h.seq})
	if err != nil {
		return err
	}
	h.enqueue(p, frame{data: ack})
	if len(applied) == 0 {
		return nil
	}
	remote, err := protocol.Encode(&protocol.Remote{Ops: applied})
	if err != nil {
		return err
	}
	for _, other := range h.peers {
		if other != p {
			h.enqueue(other, frame{data: remote})
		}
	}
	return nil
}

// enqueue queues a frame without blocking. A peer that cannot keep up is
// dropped; it reconnects and catches up from a snapshot.
func (h *Hub) enqueue(p *peer, f frame) {
	select {
	case p.out <- f:
	default:
		h.logger.Warn("outbox full, dropping client", "client", p.client, "conn", p.id)
		delete(h.peers, p.client)
		p.cancel()
	}
}

func (h *Hub) reject(p *peer, code protocol.Code, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectLocked(p, code, msg)
}

// rejectLocked queues an error frame after whatever is pending and ends
// the connection once it is written.
func (h *Hub) rejectLocked(p *peer, code protocol.Code, msg string) {
	if cur, ok := h.peers[p.client]; ok && cur == p {
		delete(h.peers, p.client)
	}
	data, err := protocol.Encode(&protocol.ServerError{Code: code, Message: msg})
	if err != nil {
		p.cancel()
		return
	}
	p.closing.Store(true)
	select {
	case p.out <- frame{data: data, last: true}:
	default:
		p.cancel()
	}
}

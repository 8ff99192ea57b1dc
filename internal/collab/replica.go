package collab

import (
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/protocol"
)

// snapshotOrigin tags operations derived from a snapshot diff.
const snapshotOrigin ot.Origin = "snapshot"

type batch struct {
	id      uint64
	baseSeq uint64
	ops     []ot.Operation
}

// replica tracks the server-confirmed text and the local edits not yet
// confirmed. The local text is always the shadow with the in-flight batch
// and the buffer applied in order, clamping each operation into the text
// it lands on. The server applies the same clamped operations, so both
// sides agree on the result.
type replica struct {
	policy ot.Policy

	shadow []rune
	seq    uint64

	inflight *batch
	buffer   []ot.Operation

	// lastBatch is the last batch id handed out.
	lastBatch uint64

	// lastAcked is the last batch id the server confirmed.
	lastAcked uint64
}

func newReplica(policy ot.Policy) *replica {
	if policy == nil {
		policy = ot.DefaultPolicy
	}
	return &replica{policy: policy}
}

// load replaces the shadow while nothing is outstanding.
func (r *replica) load(text string) {
	r.shadow = []rune(text)
	r.seq = 0
	r.inflight = nil
	r.buffer = nil
}

func (r *replica) pending() []ot.Operation {
	var out []ot.Operation
	if r.inflight != nil {
		out = append(out, r.inflight.ops...)
	}
	return append(out, r.buffer...)
}

func (r *replica) setPending(ops []ot.Operation) {
	n := 0
	if r.inflight != nil {
		n = len(r.inflight.ops)
		r.inflight.ops = ops[:n:n]
	}
	r.buffer = append([]ot.Operation(nil), ops[n:]...)
}

func (r *replica) outstanding() int {
	n := len(r.buffer)
	if r.inflight != nil {
		n += len(r.inflight.ops)
	}
	return n
}

func (r *replica) local() []rune {
	out, _ := ot.ApplyAllClamped(r.shadow, r.pending())
	return out
}

// submit queues a local operation already applied to the local text.
func (r *replica) submit(op ot.Operation) {
	op.Origin = ot.Local
	op.Seq = r.seq
	r.buffer = append(r.buffer, op)
}

// takeBatch moves the buffer in flight when nothing else is.
func (r *replica) takeBatch() *batch {
	if r.inflight != nil || len(r.buffer) == 0 {
		return nil
	}
	r.lastBatch++
	r.inflight = &batch{id: r.lastBatch, baseSeq: r.seq, ops: r.buffer}
	r.buffer = nil
	return r.inflight
}

// applyRemote integrates one remote operation and returns the operations
// that turn the previous local text into the new one.
func (r *replica) applyRemote(h ot.Operation) ([]ot.Operation, error) {
	if h.Seq != r.seq+1 {
		return nil, protocolErrorf("sequence gap: expected %d, got %d", r.seq+1, h.Seq)
	}
	shadow, err := ot.Apply(r.shadow, h)
	if err != nil {
		return nil, protocolErrorf("remote operation %s does not fit confirmed text: %v", h, err)
	}

	old := r.local()
	r.shadow = shadow
	r.seq = h.Seq

	pending, advanced := ot.RebaseSeq(r.policy, r.pending(), h)
	r.setPending(pending)

	mid, applied := ot.ApplyAllClamped(old, []ot.Operation{advanced})
	ops := make([]ot.Operation, 0, 1)
	for _, op := range applied {
		if !op.IsNoOp() {
			ops = append(ops, op)
		}
	}
	// The rebased local edits can land differently from the advanced
	// remote edit; the diff reconciles the two.
	for _, op := range ot.Diff(mid, r.local()) {
		op.Origin = h.Origin
		op.Seq = h.Seq
		ops = append(ops, op)
	}
	return ops, nil
}

// ack confirms the in-flight batch.
func (r *replica) ack(a *protocol.Ack) error {
	if r.inflight == nil {
		return protocolErrorf("ack for batch %d with nothing in flight", a.BatchID)
	}
	if a.BatchID != r.inflight.id {
		return protocolErrorf("ack for batch %d, expected %d", a.BatchID, r.inflight.id)
	}
	if want := r.seq + uint64(len(r.inflight.ops)); a.Seq != want {
		return protocolErrorf("ack sequence %d, expected %d", a.Seq, want)
	}
	r.shadow, _ = ot.ApplyAllClamped(r.shadow, r.inflight.ops)
	r.seq = a.Seq
	r.lastAcked = r.inflight.id
	r.inflight = nil
	for i := range r.buffer {
		r.buffer[i].Seq = r.seq
	}
	return nil
}

// reconcile adopts a fresh snapshot and returns the operations that turn
// the previous local text into the new one. Outstanding edits survive:
// normally they are rebased across the difference between the old shadow
// and the snapshot; with hard set they are replayed as-is over the
// snapshot.
func (r *replica) reconcile(snap *protocol.Snapshot, hard bool) ([]ot.Operation, error) {
	if !hard {
		if snap.LastBatch > r.lastBatch {
			return nil, protocolErrorf("server reports batch %d, last sent %d", snap.LastBatch, r.lastBatch)
		}
		if snap.Seq < r.seq {
			return nil, protocolErrorf("snapshot sequence %d behind confirmed %d", snap.Seq, r.seq)
		}
	}

	old := r.local()
	if r.inflight != nil {
		if snap.LastBatch >= r.inflight.id {
			// Applied before the link dropped; the ack was lost.
			if !hard {
				r.shadow, _ = ot.ApplyAllClamped(r.shadow, r.inflight.ops)
			}
			r.lastAcked = r.inflight.id
		} else {
			r.buffer = append(r.inflight.ops, r.buffer...)
		}
		r.inflight = nil
	}

	next := []rune(snap.Text)
	if !hard {
		for _, d := range ot.Diff(r.shadow, next) {
			r.buffer, _ = ot.RebaseSeq(r.policy, r.buffer, d)
		}
	}
	r.shadow = next
	r.seq = snap.Seq
	r.lastAcked = max(r.lastAcked, snap.LastBatch)
	r.lastBatch = max(r.lastBatch, snap.LastBatch)
	for i := range r.buffer {
		r.buffer[i].Seq = r.seq
	}

	ops := ot.Diff(old, r.local())
	for i := range ops {
		ops[i].Origin = snapshotOrigin
		ops[i].Seq = snap.Seq
	}
	return ops, nil
}

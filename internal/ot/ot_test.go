package ot

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/dshills/foldtext/internal/coords"
)

func TestTransformOffsetInsertBefore(t *testing.T) {
	offset := TransformOffset(10, NewInsert(0, "Hello"))
	if offset != 15 {
		t.Errorf("offset should shift right by 5, got %d", offset)
	}
}

func TestTransformOffsetInsertAt(t *testing.T) {
	if got := TransformOffset(10, NewInsert(10, "abc")); got != 13 {
		t.Errorf("insertion at offset should push it forward, got %d", got)
	}
	if got := TransformOffsetSticky(10, NewInsert(10, "abc")); got != 10 {
		t.Errorf("sticky offset should stay, got %d", got)
	}
}

func TestTransformOffsetInsertAfter(t *testing.T) {
	if got := TransformOffset(10, NewInsert(20, "Hello")); got != 10 {
		t.Errorf("offset should be unchanged, got %d", got)
	}
}

func TestTransformOffsetDeleteSpanning(t *testing.T) {
	if got := TransformOffset(10, NewDelete(5, 15)); got != 5 {
		t.Errorf("offset should move to start of deletion, got %d", got)
	}
}

func TestTransformOffsetReplaceSpanning(t *testing.T) {
	// Offset inside a replaced range lands after the replacement.
	if got := TransformOffset(3, NewReplace(coords.Native(2, 6), "big")); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestApply(t *testing.T) {
	out, err := Apply([]rune("**bold**"), NewReplace(coords.Native(2, 6), "big"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if string(out) != "**big**" {
		t.Errorf("expected **big**, got %q", string(out))
	}

	_, err = Apply([]rune("abc"), NewDelete(2, 5))
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	var re *RangeError
	if !errors.As(err, &re) || re.Len != 3 {
		t.Errorf("expected RangeError with length 3, got %v", err)
	}
}

func TestApplyCodePoints(t *testing.T) {
	out, err := Apply([]rune("héllo"), NewReplace(coords.Native(1, 2), "e"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("expected hello, got %q", string(out))
	}
	if d := NewInsert(0, "日本").Delta(); d != 2 {
		t.Errorf("expected delta 2, got %d", d)
	}
}

func TestRebaseOverRemoteInsert(t *testing.T) {
	// Local replaces "bold" with "big" while a remote inserts "X" at 0.
	base := []rune("**bold**")
	local := NewReplace(coords.Native(2, 6), "big")
	remote := NewInsert(0, "X").WithOrigin("peer")

	rebased, advanced := RebaseSeq(RemoteFirst{}, []Operation{local}, remote)
	if rebased[0].Range != coords.Native(3, 7) {
		t.Errorf("expected local range n[3:7), got %s", rebased[0].Range)
	}
	if advanced.Range != coords.NativeCaret(0) {
		t.Errorf("remote should be unaffected, got %s", advanced.Range)
	}

	text, _ := Apply(base, remote)
	text, err := ApplyAll(text, rebased)
	if err != nil {
		t.Fatalf("ApplyAll failed: %v", err)
	}
	if string(text) != "X**big**" {
		t.Errorf("expected X**big**, got %q", string(text))
	}
}

func TestRemoteFirstTieBreak(t *testing.T) {
	local := NewInsert(3, "L")
	remote := NewInsert(3, "R").WithOrigin("peer")

	rebased, _ := RebaseSeq(nil, []Operation{local}, remote)
	text, _ := Apply([]rune("abcdef"), remote)
	text, _ = ApplyAll(text, rebased)
	if string(text) != "abcRLdef" {
		t.Errorf("expected remote text first, got %q", string(text))
	}
}

func TestRebaseSeqAdvancesRemote(t *testing.T) {
	// Two pending local inserts at the front push the remote edit along.
	local := []Operation{NewInsert(0, "ab"), NewInsert(2, "c")}
	remote := NewDelete(4, 6).WithOrigin("peer")

	rebased, advanced := RebaseSeq(RemoteFirst{}, local, remote)
	if advanced.Range != coords.Native(7, 9) {
		t.Errorf("expected remote advanced to n[7:9), got %s", advanced.Range)
	}
	if rebased[0].Range != coords.NativeCaret(0) || rebased[1].Range != coords.NativeCaret(2) {
		t.Errorf("inserts before the deletion should not move, got %v", rebased)
	}
}

func TestDiffSimple(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		ops      int
	}{
		{"equal", "same", "same", 0},
		{"insert", "abc", "abXc", 1},
		{"delete", "abc", "ac", 1},
		{"replace", "**bold**", "**big**", 1},
		{"two regions", "a-b-c", "aXb-cY", 2},
		{"from empty", "", "hello", 1},
		{"to empty", "hello", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := Diff([]rune(tt.old), []rune(tt.new))
			if len(ops) != tt.ops {
				t.Errorf("expected %d ops, got %d: %v", tt.ops, len(ops), ops)
			}
			out, err := ApplyAll([]rune(tt.old), ops)
			if err != nil {
				t.Fatalf("ApplyAll failed: %v", err)
			}
			if string(out) != tt.new {
				t.Errorf("expected %q, got %q", tt.new, string(out))
			}
		})
	}
}

func TestDiffLimitFallsBack(t *testing.T) {
	ops := DiffLimit([]rune("a-b-c"), []rune("aXb-cY"), 1)
	if len(ops) != 1 {
		t.Fatalf("expected one replace, got %v", ops)
	}
	if ops[0].Range != coords.Native(1, 5) || ops[0].Text != "Xb-cY" {
		t.Errorf("unexpected fallback op %s", ops[0])
	}
}

func TestDiffRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	alphabet := []rune("ab*_ \n#é")
	gen := func() []rune {
		out := make([]rune, rng.Intn(40))
		for i := range out {
			out[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return out
	}

	for i := 0; i < 200; i++ {
		old, new := gen(), gen()
		out, err := ApplyAll(old, Diff(old, new))
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if string(out) != string(new) {
			t.Fatalf("case %d: expected %q, got %q", i, string(new), string(out))
		}
	}
}

// replica mirrors the client side of the protocol: a confirmed shadow,
// one batch in flight and a buffer of later edits.
type replica struct {
	shadow   []rune
	seq      int
	inflight []Operation
	buffer   []Operation
}

func (r *replica) local() []rune {
	out, _ := ApplyAllClamped(r.shadow, append(append([]Operation(nil), r.inflight...), r.buffer...))
	return out
}

func (r *replica) edit(rng *rand.Rand) {
	text := r.local()
	s := rng.Intn(len(text) + 1)
	e := s + rng.Intn(len(text)-s+1)
	if rng.Intn(2) == 0 {
		e = s
	}
	r.buffer = append(r.buffer, NewReplace(coords.Native(s, e), string(rune('A'+rng.Intn(26)))))
}

func (r *replica) flush() ([]Operation, int, bool) {
	if r.inflight != nil || len(r.buffer) == 0 {
		return nil, 0, false
	}
	r.inflight, r.buffer = r.buffer, nil
	return r.inflight, r.seq, true
}

func (r *replica) remote(op Operation) {
	r.shadow, _ = Apply(r.shadow, op)
	r.seq++
	pending := append(append([]Operation(nil), r.inflight...), r.buffer...)
	pending, _ = RebaseSeq(RemoteFirst{}, pending, op)
	n := len(r.inflight)
	r.inflight, r.buffer = pending[:n:n], pending[n:]
	if n == 0 {
		r.inflight = nil
	}
}

func (r *replica) ack(count int) {
	r.shadow, _ = ApplyAllClamped(r.shadow, r.inflight)
	r.seq += count
	r.inflight = nil
}

// sequencer mirrors the server: it rebases each batch over history since
// the batch's base and records the ops as applied.
type sequencer struct {
	text    []rune
	history []Operation
}

func (s *sequencer) submit(ops []Operation, base int) []Operation {
	for _, h := range s.history[base:] {
		ops, _ = RebaseSeq(RemoteFirst{}, ops, h)
	}
	var applied []Operation
	s.text, applied = ApplyAllClamped(s.text, ops)
	s.history = append(s.history, applied...)
	return applied
}

func TestConvergenceThroughSequencer(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for round := 0; round < 50; round++ {
		start := []rune("# Title\n**bold** and _it_\n")
		srv := &sequencer{text: start}
		clients := []*replica{{shadow: start}, {shadow: start}, {shadow: start}}
		// Per-client queue of history indices not yet delivered.
		delivered := make([]int, len(clients))

		deliver := func(i int) {
			c := clients[i]
			for delivered[i] < len(srv.history) {
				op := srv.history[delivered[i]]
				if op.Origin == Origin(rune('0'+i)) {
					// Own batch: acknowledge all ops of the batch at once.
					n := len(c.inflight)
					c.ack(n)
					delivered[i] += n
					continue
				}
				c.remote(op)
				delivered[i]++
			}
		}

		for step := 0; step < 40; step++ {
			i := rng.Intn(len(clients))
			c := clients[i]
			switch rng.Intn(3) {
			case 0:
				c.edit(rng)
			case 1:
				if ops, base, ok := c.flush(); ok {
					// Deliver everything older than this client's base first
					// so acknowledgements stay in order.
					batch := make([]Operation, len(ops))
					for k, op := range ops {
						batch[k] = op.WithOrigin(Origin(rune('0' + i)))
					}
					srv.submit(batch, base)
				}
			case 2:
				deliver(i)
			}
		}

		// Drain: flush and deliver until quiescent.
		for pass := 0; pass < 10; pass++ {
			for i, c := range clients {
				deliver(i)
				if ops, base, ok := c.flush(); ok {
					batch := make([]Operation, len(ops))
					for k, op := range ops {
						batch[k] = op.WithOrigin(Origin(rune('0' + i)))
					}
					srv.submit(batch, base)
				}
			}
		}
		for i, c := range clients {
			deliver(i)
			if got := string(c.local()); got != string(srv.text) {
				t.Fatalf("round %d client %d diverged:\n got %q\nwant %q", round, i, got, string(srv.text))
			}
		}
	}
}

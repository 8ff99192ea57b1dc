package ot

import "github.com/dshills/foldtext/internal/coords"

// TransformOffset updates an offset after an operation was applied.
//
// Transformation rules:
//   - Operation entirely before the offset (including an insertion exactly at
//     the offset): shift by the operation's delta
//   - Operation starting at or after the offset: unchanged
//   - Operation spanning the offset: move to the end of the replacement text
//
// With a pure deletion the last rule collapses the offset to the deletion
// point.
func TransformOffset(offset int, op Operation) int {
	if op.Range.End <= offset {
		return offset + op.Delta()
	}
	if op.Range.Start >= offset {
		return offset
	}
	return op.Range.Start + op.TextLen()
}

// TransformOffsetSticky is like TransformOffset but an insertion exactly at
// the offset leaves the offset in place instead of pushing it forward.
func TransformOffsetSticky(offset int, op Operation) int {
	if op.IsInsert() && op.Range.Start == offset {
		return offset
	}
	return TransformOffset(offset, op)
}

// TransformRange transforms both endpoints of r through op.
func TransformRange(r coords.NativeRange, op Operation) coords.NativeRange {
	return coords.Native(TransformOffset(r.Start, op), TransformOffset(r.End, op))
}

// TransformRangeSticky transforms r through op keeping endpoints that sit at
// an insertion point in place.
func TransformRangeSticky(r coords.NativeRange, op Operation) coords.NativeRange {
	return coords.Native(TransformOffsetSticky(r.Start, op), TransformOffsetSticky(r.End, op))
}

// Policy resolves concurrent operations. Both methods receive two
// operations defined against the same text.
//
// Rebase returns local re-expressed to apply after remote. Advance returns
// remote re-expressed to apply after local; it is only used to carry remote
// forward through a chain of pending local operations, so it needs to be
// deterministic but not intention-perfect. A client and the server must use
// the same Policy for their texts to converge.
type Policy interface {
	Rebase(local, remote Operation) Operation
	Advance(remote, local Operation) Operation
}

// RemoteFirst is the default Policy: remote operations are ordered before
// any unacknowledged local operation. Local ranges shift through remote
// edits exactly like a selection does, and a local insertion at the same
// point as a remote insertion lands after the remote text.
type RemoteFirst struct{}

// Rebase implements Policy.
func (RemoteFirst) Rebase(local, remote Operation) Operation {
	local.Range = TransformRange(local.Range, remote)
	return local
}

// Advance implements Policy.
func (RemoteFirst) Advance(remote, local Operation) Operation {
	remote.Range = TransformRangeSticky(remote.Range, local)
	return remote
}

// DefaultPolicy is the policy used when none is configured.
var DefaultPolicy Policy = RemoteFirst{}

// RebaseSeq re-expresses the sequential local ops so they apply after
// remote, and returns remote re-expressed to apply after all of them.
// local is not modified.
func RebaseSeq(p Policy, local []Operation, remote Operation) ([]Operation, Operation) {
	if p == nil {
		p = DefaultPolicy
	}
	out := make([]Operation, len(local))
	for i, l := range local {
		out[i] = p.Rebase(l, remote)
		remote = p.Advance(remote, l)
	}
	return out, remote
}

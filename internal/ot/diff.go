package ot

import "github.com/dshills/foldtext/internal/coords"

// DefaultMaxDiffRunes bounds the middle section handed to the Myers search.
// Larger differences fall back to one replace operation.
const DefaultMaxDiffRunes = 4096

type editKind uint8

const (
	editEqual editKind = iota
	editInsert
	editDelete
)

type editOp struct {
	kind     editKind
	oldIndex int
	newIndex int
}

// Diff returns sequential operations transforming old into new. Applying
// the result with ApplyAll to old yields new. Each operation covers one
// contiguous changed region.
func Diff(old, new []rune) []Operation {
	return DiffLimit(old, new, DefaultMaxDiffRunes)
}

// DiffLimit is like Diff with a custom Myers size limit. A limit <= 0
// disables the Myers search entirely.
func DiffLimit(old, new []rune, limit int) []Operation {
	prefix := commonPrefix(old, new)
	suffix := commonSuffix(old[prefix:], new[prefix:])
	oldMid := old[prefix : len(old)-suffix]
	newMid := new[prefix : len(new)-suffix]

	if len(oldMid) == 0 && len(newMid) == 0 {
		return nil
	}
	if len(oldMid) == 0 || len(newMid) == 0 || limit <= 0 || len(oldMid)+len(newMid) > limit {
		return []Operation{NewReplace(coords.Native(prefix, prefix+len(oldMid)), string(newMid))}
	}

	script := myersDiff(oldMid, newMid)
	return scriptToOps(script, newMid, prefix)
}

// scriptToOps groups consecutive inserts and deletes into replace
// operations expressed against the text as it evolves.
func scriptToOps(script []editOp, newMid []rune, base int) []Operation {
	var ops []Operation
	pos := base
	i := 0
	for i < len(script) {
		if script[i].kind == editEqual {
			pos++
			i++
			continue
		}
		deleted := 0
		var inserted []rune
		for i < len(script) && script[i].kind != editEqual {
			if script[i].kind == editDelete {
				deleted++
			} else {
				inserted = append(inserted, newMid[script[i].newIndex])
			}
			i++
		}
		ops = append(ops, NewReplace(coords.Native(pos, pos+deleted), string(inserted)))
		pos += len(inserted)
	}
	return ops
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func commonSuffix(a, b []rune) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[len(a)-1-i] != b[len(b)-1-i] {
			return i
		}
	}
	return n
}

// myersDiff computes the shortest edit script between a and b.
func myersDiff(a, b []rune) []editOp {
	n := len(a)
	m := len(b)

	maxD := n + m
	offset := maxD
	v := make([]int, 2*maxD+1)

	var trace [][]int

outer:
	for d := 0; d <= maxD; d++ {
		vCopy := make([]int, len(v))
		copy(vCopy, v)
		trace = append(trace, vCopy)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k

			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x

			if x >= n && y >= m {
				vFinal := make([]int, len(v))
				copy(vFinal, v)
				trace = append(trace, vFinal)
				break outer
			}
		}
	}

	return backtrack(trace, n, m, offset)
}

func backtrack(trace [][]int, n, m, offset int) []editOp {
	x, y := n, m
	var ops []editOp

	for d := len(trace) - 2; d >= 0; d-- {
		v := trace[d]
		k := x - y

		var prevK int
		if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, editOp{kind: editEqual, oldIndex: x, newIndex: y})
		}

		if d > 0 {
			if x > prevX {
				x--
				ops = append(ops, editOp{kind: editDelete, oldIndex: x})
			} else if y > prevY {
				y--
				ops = append(ops, editOp{kind: editInsert, newIndex: y})
			}
		}
	}

	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

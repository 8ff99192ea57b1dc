// Package ot implements the operations exchanged between collaborating
// replicas and the rules for rebasing them over each other.
//
// An Operation replaces a native range with new text. Offsets transform
// through an operation with the same rules the selection uses:
//
//   - Edits entirely before an offset shift it by the edit's delta
//   - Edits starting at or after an offset leave it alone
//   - Edits spanning an offset move it to the end of the replacement
//
// RebaseSeq carries a sequence of unacknowledged local operations over one
// remote operation using a Policy. The default RemoteFirst policy orders
// remote operations before local ones.
//
// Diff computes operations turning one text into another using the Myers
// algorithm on code points, falling back to a single replace for large
// differences.
package ot

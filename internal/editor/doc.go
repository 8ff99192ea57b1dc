// Package editor coordinates the document, folding, selection and
// collaboration session of one open document.
//
// A Controller is the single point of mutation. Every change, whether
// typed by the user, received from a collaborator or produced by a
// reconnect, is applied under the controller's lock in the same order:
//
//  1. the document applies the operation and reparses affected blocks
//  2. the fold engine shifts its state through the edit
//  3. the selection moves across the edit
//  4. foldable ranges are replaced and the unfolded range is set to the
//     blocks under the selection
//  5. the range map is rebuilt from the folded set
//  6. surfaces are asked to invalidate the changed text and any range
//     whose fold membership changed
//
// Queries (presentation text, block lookup, selection) always see a fully
// recomputed state.
//
// Network goroutines never take the lock. They post events to the session;
// Run drains them and applies each one under the lock.
package editor

// Package coords defines the two coordinate spaces used by the editor core.
//
// Native coordinates index the raw markup text, syntax markers included.
// Presentation coordinates index the rendered text, where every folded
// (hidden) native index is skipped when counting. Both are expressed as
// half-open code point ranges:
//
//	n := coords.Native(0, 8)        // "**bold**"
//	p := coords.Presentation(0, 4)  // "bold"
//
// The two range types are distinct instantiations of Range so a native
// range cannot be passed where a presentation range is expected. Translation
// between them is the job of the rangemap package.
//
// IndexSet stores a set of native indices as sorted disjoint runs. It is
// used for the folded index set and for the fold membership diff computed
// on every fold change.
package coords

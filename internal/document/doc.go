// Package document owns the native markup text and its block structure.
//
// Text is split into line-based blocks: paragraphs, headings, list items,
// blockquotes, thematic breaks and fenced code. A fence spans from its
// opening line to the matching closing line, or to the end of the document.
// Blocks always partition the text: they are contiguous, non-empty and
// together cover every code point. An empty document has no blocks.
//
// Each block carries the syntax runs that may be hidden in the presentation
// (heading and quote prefixes, emphasis delimiters, inline code backticks,
// link brackets and targets, fence markers).
//
// Apply reparses only the blocks an edit touches, extending forward until
// the parse realigns with an unchanged block. The result is always the same
// as a full Parse of the new text.
package document

package document

import "github.com/dshills/foldtext/internal/coords"

// maxHeadingLevel is the deepest ATX heading recognized.
const maxHeadingLevel = 6

// parser splits text into blocks one line at a time. It holds no state
// between blocks, so parsing from any block start yields the same blocks a
// full parse would produce from that point.
type parser struct {
	text []rune
}

// ParseText parses text into blocks without building a Model.
func ParseText(text string) []Block {
	return parseAll([]rune(text))
}

func parseAll(text []rune) []Block {
	p := parser{text: text}
	var blocks []Block
	for pos := 0; pos < len(text); {
		b := p.block(pos)
		blocks = append(blocks, b)
		pos = b.Range.End
	}
	return blocks
}

// line returns the end of the line content starting at pos and the start
// of the following line.
func (p *parser) line(pos int) (contentEnd, next int) {
	for i := pos; i < len(p.text); i++ {
		if p.text[i] == '\n' {
			return i, i + 1
		}
	}
	return len(p.text), len(p.text)
}

// indent counts leading spaces from pos, stopping at end.
func (p *parser) indent(pos, end int) int {
	n := 0
	for pos+n < end && p.text[pos+n] == ' ' {
		n++
	}
	return n
}

// run counts consecutive c characters starting at pos, stopping at end.
func (p *parser) run(pos, end int, c rune) int {
	n := 0
	for pos+n < end && p.text[pos+n] == c {
		n++
	}
	return n
}

// block parses the block starting at the line beginning at pos.
func (p *parser) block(pos int) Block {
	end, next := p.line(pos)
	ind := p.indent(pos, end)

	if ind <= 3 {
		if b, ok := p.fence(pos, ind, end, next); ok {
			return b
		}
		if p.isThematicBreak(pos+ind, end) {
			return Block{Kind: ThematicBreak, Range: coords.Native(pos, next)}
		}
		if b, ok := p.heading(pos, ind, end, next); ok {
			return b
		}
		if b, ok := p.quote(pos, ind, end, next); ok {
			return b
		}
	}
	if b, ok := p.listItem(pos, ind, end, next); ok {
		return b
	}

	return Block{
		Kind:     Paragraph,
		Range:    coords.Native(pos, next),
		Foldable: p.inline(pos+ind, end, nil),
	}
}

func (p *parser) fence(pos, ind, end, next int) (Block, bool) {
	start := pos + ind
	if start >= end {
		return Block{}, false
	}
	c := p.text[start]
	if c != '`' && c != '~' {
		return Block{}, false
	}
	n := p.run(start, end, c)
	if n < 3 {
		return Block{}, false
	}
	if c == '`' {
		for i := start + n; i < end; i++ {
			if p.text[i] == '`' {
				return Block{}, false
			}
		}
	}

	b := Block{Kind: CodeFence, Foldable: []coords.NativeRange{coords.Native(start, start+n)}}
	for line := next; line < len(p.text); {
		lend, lnext := p.line(line)
		lind := p.indent(line, lend)
		if lind <= 3 {
			cs := line + lind
			if r := p.run(cs, lend, c); r >= n && p.blankFrom(cs+r, lend) {
				b.Foldable = append(b.Foldable, coords.Native(cs, cs+r))
				b.Range = coords.Native(pos, lnext)
				return b, true
			}
		}
		line = lnext
	}
	b.Range = coords.Native(pos, len(p.text))
	return b, true
}

func (p *parser) blankFrom(pos, end int) bool {
	for i := pos; i < end; i++ {
		if p.text[i] != ' ' && p.text[i] != '\t' {
			return false
		}
	}
	return true
}

func (p *parser) isThematicBreak(pos, end int) bool {
	if pos >= end {
		return false
	}
	c := p.text[pos]
	if c != '-' && c != '*' && c != '_' {
		return false
	}
	count := 0
	for i := pos; i < end; i++ {
		switch p.text[i] {
		case c:
			count++
		case ' ', '\t':
		default:
			return false
		}
	}
	return count >= 3
}

func (p *parser) heading(pos, ind, end, next int) (Block, bool) {
	start := pos + ind
	n := p.run(start, end, '#')
	if n == 0 || n > maxHeadingLevel {
		return Block{}, false
	}
	prefixEnd := start + n
	if prefixEnd < end {
		if p.text[prefixEnd] != ' ' && p.text[prefixEnd] != '\t' {
			return Block{}, false
		}
		prefixEnd++
	}
	foldable := []coords.NativeRange{coords.Native(start, prefixEnd)}
	return Block{
		Kind:     Heading,
		Range:    coords.Native(pos, next),
		Level:    n,
		Foldable: p.inline(prefixEnd, end, foldable),
	}, true
}

func (p *parser) quote(pos, ind, end, next int) (Block, bool) {
	start := pos + ind
	depth := 0
	i := start
	for i < end && p.text[i] == '>' {
		depth++
		i++
		if i < end && p.text[i] == ' ' {
			i++
		}
	}
	if depth == 0 {
		return Block{}, false
	}
	foldable := []coords.NativeRange{coords.Native(start, i)}
	return Block{
		Kind:     Quote,
		Range:    coords.Native(pos, next),
		Level:    depth,
		Foldable: p.inline(i, end, foldable),
	}, true
}

func (p *parser) listItem(pos, ind, end, next int) (Block, bool) {
	start := pos + ind
	if start >= end {
		return Block{}, false
	}

	markerEnd := -1
	ordered := false
	switch c := p.text[start]; {
	case c == '-' || c == '*' || c == '+':
		markerEnd = start + 1
	case c >= '0' && c <= '9':
		i := start
		for i < end && i-start < 9 && p.text[i] >= '0' && p.text[i] <= '9' {
			i++
		}
		if i < end && (p.text[i] == '.' || p.text[i] == ')') {
			markerEnd = i + 1
			ordered = true
		}
	}
	if markerEnd < 0 {
		return Block{}, false
	}
	if markerEnd < end && p.text[markerEnd] != ' ' && p.text[markerEnd] != '\t' {
		return Block{}, false
	}
	content := min(markerEnd+1, end)

	return Block{
		Kind:     ListItem,
		Range:    coords.Native(pos, next),
		Level:    ind / 2,
		Ordered:  ordered,
		Foldable: p.inline(content, end, nil),
	}, true
}

// inline appends the inline syntax runs found in [start, end) to out.
func (p *parser) inline(start, end int, out []coords.NativeRange) []coords.NativeRange {
	t := p.text
	for i := start; i < end; {
		switch t[i] {
		case '\\':
			i += 2
			continue
		case '`':
			n := p.run(i, end, '`')
			if j := p.findRun(i+n, end, '`', n); j >= 0 {
				out = append(out, coords.Native(i, i+n), coords.Native(j, j+n))
				i = j + n
				continue
			}
			i += n
			continue
		case '[':
			if closeAt, urlEnd, ok := p.link(i, end); ok {
				out = append(out, coords.Native(i, i+1))
				out = p.inline(i+1, closeAt, out)
				out = append(out, coords.Native(closeAt, urlEnd))
				i = urlEnd
				continue
			}
		case '*', '_', '~':
			if n, j, ok := p.emphasis(i, end); ok {
				out = append(out, coords.Native(i, i+n))
				out = p.inline(i+n, j, out)
				out = append(out, coords.Native(j, j+n))
				i = j + n
				continue
			}
		}
		i++
	}
	return out
}

// findRun returns the start of the first run of exactly n c characters in
// [from, end), or -1.
func (p *parser) findRun(from, end int, c rune, n int) int {
	for k := from; k < end; {
		if p.text[k] != c {
			k++
			continue
		}
		r := p.run(k, end, c)
		if r == n {
			return k
		}
		k += r
	}
	return -1
}

// link matches [text](url) at i and returns the index of the closing
// bracket and the end of the url part.
func (p *parser) link(i, end int) (closeAt, urlEnd int, ok bool) {
	closeAt = -1
	for k := i + 1; k < end; k++ {
		if p.text[k] == ']' {
			closeAt = k
			break
		}
	}
	if closeAt <= i+1 || closeAt+1 >= end || p.text[closeAt+1] != '(' {
		return 0, 0, false
	}
	for k := closeAt + 2; k < end; k++ {
		if p.text[k] == ')' {
			return closeAt, k + 1, true
		}
	}
	return 0, 0, false
}

// emphasis matches a delimiter pair opening at i. It returns the delimiter
// length and the start of the closing delimiter.
func (p *parser) emphasis(i, end int) (n, closeAt int, ok bool) {
	c := p.text[i]
	r := p.run(i, end, c)
	switch {
	case c == '~' && r >= 2:
		n = 2
	case c == '~':
		return 0, 0, false
	case r >= 2:
		n = 2
	default:
		n = 1
	}

	inner := i + n
	if inner >= end || p.text[inner] == ' ' || p.text[inner] == '\t' {
		return 0, 0, false
	}
	for k := inner + 1; k < end; {
		if p.text[k] != c {
			k++
			continue
		}
		kr := p.run(k, end, c)
		if p.text[k-1] != ' ' && p.text[k-1] != '\t' && (kr == n || (n == 2 && kr > 2)) {
			return n, k, true
		}
		k += kr
	}
	return 0, 0, false
}

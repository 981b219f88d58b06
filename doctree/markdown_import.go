package doctree

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// markdown is the shared parser. Only the strikethrough extension is
// enabled: it is the one inline style the format bitmask knows beyond
// CommonMark emphasis and code spans.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// ImportMarkdown parses src into a new Document.
//
// With preserveNewlines, every blank source line between two top-level
// blocks becomes one empty paragraph, so "First\n\nSecond" yields
// [First, <empty>, Second]. Without it, blank lines are plain separators.
func ImportMarkdown(src string, preserveNewlines bool) *Document {
	d := New()
	source := []byte(src)
	root := markdown.Parser().Parse(text.NewReader(source))

	im := &importer{doc: d, src: source}
	cursor := 0
	for c := root.FirstChild(); c != nil; c = c.NextSibling() {
		for _, n := range im.block(c) {
			d.root.Append(n)
		}
		if !preserveNewlines {
			continue
		}
		cursor = im.blockEnd(c, cursor)
		if c.NextSibling() == nil {
			break
		}
		blanks, next := blankLinesAfter(source, cursor)
		for i := 0; i < blanks; i++ {
			d.root.Append(d.NewParagraph())
		}
		cursor = next
	}
	return d
}

type importer struct {
	doc *Document
	src []byte
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// block converts one goldmark block into zero or more document blocks.
func (im *importer) block(n ast.Node) []*Node {
	d := im.doc
	switch v := n.(type) {
	case *ast.Heading:
		h := d.NewHeading(v.Level)
		im.appendInlines(h, v)
		return []*Node{h}

	case *ast.Paragraph, *ast.TextBlock:
		p := d.NewParagraph()
		im.appendInlines(p, v)
		return []*Node{p}

	case *ast.Blockquote:
		// Quotes hold inline content only: one quote per paragraph, other
		// nested blocks are lifted out.
		var out []*Node
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				q := d.NewQuote()
				im.appendInlines(q, c)
				out = append(out, q)
			default:
				out = append(out, im.block(c)...)
			}
		}
		return out

	case *ast.List:
		l := d.NewList(v.IsOrdered(), v.Start, v.Marker)
		for item := v.FirstChild(); item != nil; item = item.NextSibling() {
			l.Append(im.listItem(item))
		}
		return []*Node{l}

	case *ast.FencedCodeBlock:
		lang := string(v.Language(im.src))
		return []*Node{d.NewCodeBlock(lang, im.lines(v))}

	case *ast.CodeBlock:
		return []*Node{d.NewCodeBlock("", im.lines(v))}

	case *ast.HTMLBlock:
		lit := im.lines(v)
		if v.HasClosure() {
			lit += string(v.ClosureLine.Value(im.src))
		}
		return []*Node{d.NewHTMLBlock(lit)}

	case *ast.ThematicBreak:
		return []*Node{d.NewThematicBreak()}
	}

	var out []*Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == ast.TypeBlock {
			out = append(out, im.block(c)...)
		}
	}
	return out
}

func (im *importer) listItem(item ast.Node) *Node {
	li := im.doc.NewListItem()
	seenText := false
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			if seenText {
				li.InsertInline(im.doc.NewText("\n", 0))
			}
			for _, n := range im.inlines(c, 0) {
				li.InsertInline(n)
			}
			seenText = true
		default:
			for _, b := range im.block(c) {
				li.Append(b)
			}
		}
	}
	return li
}

func (im *importer) lines(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(im.src))
	}
	return buf.String()
}

// ---------------------------------------------------------------------------
// Inlines
// ---------------------------------------------------------------------------

func (im *importer) appendInlines(target *Node, n ast.Node) {
	for _, c := range im.inlines(n, 0) {
		target.Append(c)
	}
}

// inlines flattens the inline children of n into text leaves, link wrappers
// and images. Adjacent text leaves with the same format are merged.
func (im *importer) inlines(n ast.Node, f Format) []*Node {
	d := im.doc
	var out []*Node
	addText := func(s string, format Format) {
		if s == "" {
			return
		}
		if k := len(out); k > 0 && out[k-1].kind == KindText && out[k-1].format == format {
			out[k-1].text += s
			return
		}
		out = append(out, d.NewText(s, format))
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			s := im.textValue(v)
			if v.SoftLineBreak() || v.HardLineBreak() {
				s += "\n"
			}
			addText(s, f)

		case *ast.String:
			addText(string(v.Value), f)

		case *ast.Emphasis:
			flag := FormatItalic
			if v.Level >= 2 {
				flag = FormatBold
			}
			for _, m := range im.inlines(v, f|flag) {
				if m.kind == KindText {
					addText(m.text, m.format)
					continue
				}
				out = append(out, m)
			}

		case *extast.Strikethrough:
			for _, m := range im.inlines(v, f|FormatStrikethrough) {
				if m.kind == KindText {
					addText(m.text, m.format)
					continue
				}
				out = append(out, m)
			}

		case *ast.CodeSpan:
			addText(im.rawText(v), f|FormatCode)

		case *ast.Link:
			l := d.NewLink(string(v.Destination), string(v.Title))
			for _, m := range im.inlines(v, f) {
				l.Append(m)
			}
			out = append(out, l)

		case *ast.AutoLink:
			l := d.NewLink(string(v.URL(im.src)), "")
			l.Marker = '<'
			l.Append(d.NewText(string(v.Label(im.src)), f))
			out = append(out, l)

		case *ast.Image:
			out = append(out, d.NewImage(string(v.Destination), im.rawText(v), string(v.Title)))

		case *ast.RawHTML:
			var buf bytes.Buffer
			for i := 0; i < v.Segments.Len(); i++ {
				seg := v.Segments.At(i)
				buf.Write(seg.Value(im.src))
			}
			addText(buf.String(), f)

		default:
			for _, m := range im.inlines(c, f) {
				if m.kind == KindText {
					addText(m.text, m.format)
					continue
				}
				out = append(out, m)
			}
		}
	}
	return out
}

// textValue returns the text of a goldmark text node with backslash escapes
// and character references resolved.
func (im *importer) textValue(t *ast.Text) string {
	v := t.Segment.Value(im.src)
	if t.IsRaw() {
		return string(v)
	}
	v = util.UnescapePunctuations(v)
	v = util.ResolveNumericReferences(v)
	v = util.ResolveEntityNames(v)
	return string(v)
}

// rawText concatenates the literal text below n without unescaping.
func (im *importer) rawText(n ast.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(im.src))
		case *ast.String:
			buf.Write(v.Value)
		default:
			buf.WriteString(im.rawText(c))
		}
	}
	return buf.String()
}

// ---------------------------------------------------------------------------
// Source positions (blank-line preservation)
// ---------------------------------------------------------------------------

// blockEnd returns the offset just past the last source line of the
// top-level block n. Blocks without line information (thematic breaks,
// empty fenced blocks) are located from cursor, the end of the previous
// block.
func (im *importer) blockEnd(n ast.Node, cursor int) int {
	end := -1
	first := -1
	var visit func(ast.Node)
	visit = func(c ast.Node) {
		lines := c.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if seg.Stop > end {
				end = seg.Stop
			}
			if first < 0 || seg.Start < first {
				first = seg.Start
			}
		}
		if h, ok := c.(*ast.HTMLBlock); ok && h.HasClosure() && h.ClosureLine.Stop > end {
			end = h.ClosureLine.Stop
		}
		for g := c.FirstChild(); g != nil; g = g.NextSibling() {
			if g.Type() == ast.TypeBlock {
				visit(g)
			}
		}
	}
	visit(n)

	if end < 0 {
		count := 1
		if _, ok := n.(*ast.FencedCodeBlock); ok {
			count = 2
		}
		return skipNonBlankLines(im.src, cursor, count)
	}
	if end < cursor {
		end = cursor
	}
	end = lineEnd(im.src, end)

	switch n.(type) {
	case *ast.FencedCodeBlock:
		end = skipFenceLine(im.src, end)
	case *ast.Heading:
		if !isATXHeadingLine(im.src, first) {
			end = nextLine(im.src, end)
		}
	}
	return end
}

// nextLine returns the offset of the line following the one containing pos.
func nextLine(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	i := bytes.IndexByte(src[pos:], '\n')
	if i < 0 {
		return len(src)
	}
	return pos + i + 1
}

// lineEnd moves pos to the start of the next line unless it already is at
// a line start.
func lineEnd(src []byte, pos int) int {
	if pos <= 0 || pos > len(src) || src[pos-1] == '\n' {
		return pos
	}
	return nextLine(src, pos)
}

func lineAt(src []byte, pos int) []byte {
	return src[pos:nextLine(src, pos)]
}

func isBlankLine(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// blankLinesAfter counts the whitespace-only lines starting at pos and
// returns the offset of the first non-blank line.
func blankLinesAfter(src []byte, pos int) (int, int) {
	count := 0
	for pos < len(src) {
		line := lineAt(src, pos)
		if !isBlankLine(line) {
			break
		}
		count++
		pos += len(line)
	}
	return count, pos
}

func skipNonBlankLines(src []byte, pos, count int) int {
	for ; count > 0 && pos < len(src); count-- {
		_, pos = blankLinesAfter(src, pos)
		pos = nextLine(src, pos)
	}
	return pos
}

func skipFenceLine(src []byte, pos int) int {
	if pos >= len(src) {
		return pos
	}
	t := bytes.TrimLeft(lineAt(src, pos), " ")
	if bytes.HasPrefix(t, []byte("```")) || bytes.HasPrefix(t, []byte("~~~")) {
		return nextLine(src, pos)
	}
	return pos
}

func isATXHeadingLine(src []byte, pos int) bool {
	if pos < 0 || pos > len(src) {
		return true
	}
	start := bytes.LastIndexByte(src[:pos], '\n') + 1
	t := bytes.TrimLeft(lineAt(src, start), " ")
	return len(t) > 0 && t[0] == '#'
}

package doctree

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExportMarkdown renders the document as markdown.
//
// With preserveNewlines, top-level blocks are joined by a single newline and
// every empty paragraph becomes an empty line, the inverse of the import
// mode. Without it, empty paragraphs are dropped and blocks are separated by
// a blank line. The result has no trailing newline.
func (d *Document) ExportMarkdown(preserveNewlines bool) string {
	var parts []string
	for _, c := range d.root.children {
		s := renderBlock(c)
		if strings.TrimSpace(s) == "" {
			if preserveNewlines && c.IsParagraph() {
				parts = append(parts, "")
			}
			continue
		}
		parts = append(parts, s)
	}
	sep := "\n\n"
	if preserveNewlines {
		sep = "\n"
	}
	return strings.Join(parts, sep)
}

func renderBlock(n *Node) string {
	switch n.kind {
	case KindParagraph:
		return renderInline(n.children)
	case KindHeading:
		s := renderInline(n.children)
		hashes := strings.Repeat("#", n.Level)
		if s == "" {
			return hashes
		}
		return hashes + " " + strings.ReplaceAll(s, "\n", " ")
	case KindQuote:
		return prefixLines(renderInline(n.children), "> ", ">")
	case KindList:
		return renderList(n)
	case KindListItem:
		return renderListItem(n, "- ")
	case KindCodeBlock:
		fence := "```"
		if strings.Contains(n.Literal, "```") {
			fence = "~~~"
		}
		lit := n.Literal
		if lit != "" && !strings.HasSuffix(lit, "\n") {
			lit += "\n"
		}
		return fence + n.Language + "\n" + lit + fence
	case KindHTMLBlock:
		return strings.TrimRight(n.Literal, "\n")
	case KindThematicBreak:
		return "---"
	case KindText, KindLink, KindImage:
		return renderInline([]*Node{n})
	}
	return ""
}

func renderList(n *Node) string {
	var items []string
	for i, item := range n.children {
		var marker string
		if n.Ordered {
			delim := n.Marker
			if delim != '.' && delim != ')' {
				delim = '.'
			}
			marker = strconv.Itoa(n.Start+i) + string(delim) + " "
		} else {
			bullet := n.Marker
			if bullet != '-' && bullet != '*' && bullet != '+' {
				bullet = '-'
			}
			marker = string(bullet) + " "
		}
		items = append(items, renderListItem(item, marker))
	}
	return strings.Join(items, "\n")
}

// renderListItem renders the inline content of item after marker, followed
// by its nested blocks indented to the content column.
func renderListItem(item *Node, marker string) string {
	indent := strings.Repeat(" ", len(marker))
	var inline, blocks []*Node
	for _, c := range item.children {
		if c.IsInlineNode() {
			inline = append(inline, c)
		} else {
			blocks = append(blocks, c)
		}
	}
	var b strings.Builder
	b.WriteString(marker)
	b.WriteString(prefixLinesAfterFirst(renderInline(inline), indent))
	for _, c := range blocks {
		b.WriteString("\n")
		b.WriteString(prefixLines(renderBlock(c), indent, ""))
	}
	return strings.TrimRight(b.String(), " ")
}

// prefixLines prefixes every line of s. Empty lines get emptyPrefix.
func prefixLines(s, prefix, emptyPrefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = emptyPrefix
		} else {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

func prefixLinesAfterFirst(s, prefix string) string {
	first, rest, ok := strings.Cut(s, "\n")
	if !ok {
		return s
	}
	return first + "\n" + prefixLines(rest, prefix, "")
}

// ---------------------------------------------------------------------------
// Inline rendering
// ---------------------------------------------------------------------------

func renderInline(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.kind {
		case KindText:
			b.WriteString(renderText(n.text, n.format, b.Len() == 0 || strings.HasSuffix(b.String(), "\n")))
		case KindLink:
			inner := renderInline(n.children)
			if n.Marker == '<' && inner == n.URL {
				b.WriteString("<" + n.URL + ">")
				continue
			}
			b.WriteString("[" + inner + "](" + linkDestination(n.URL) + linkTitle(n.Title) + ")")
		case KindImage:
			b.WriteString("![" + escapeText(n.text, false) + "](" + linkDestination(n.URL) + linkTitle(n.Title) + ")")
		}
	}
	return b.String()
}

func linkDestination(url string) string {
	if strings.ContainsAny(url, " ()") {
		return "<" + url + ">"
	}
	return url
}

func linkTitle(title string) string {
	if title == "" {
		return ""
	}
	return ` "` + strings.ReplaceAll(title, `"`, `\"`) + `"`
}

// renderText renders one formatted run. Surrounding whitespace is kept
// outside the emphasis markers, otherwise the markers would not be
// recognised on re-import.
func renderText(s string, f Format, atLineStart bool) string {
	core := strings.TrimFunc(s, unicode.IsSpace)
	if core == "" {
		return s
	}
	start := strings.Index(s, core)
	lead, trail := s[:start], s[start+len(core):]

	if f.Has(FormatCode) {
		tick := "`"
		if strings.Contains(core, "`") {
			tick = "``"
		}
		pad := ""
		if strings.HasPrefix(core, "`") || strings.HasSuffix(core, "`") {
			pad = " "
		}
		core = tick + pad + core + pad + tick
	} else {
		core = escapeText(core, atLineStart && lead == "")
	}

	var open, close string
	if f.Has(FormatStrikethrough) {
		open += "~~"
	}
	if f.Has(FormatBold) {
		open += "**"
	}
	if f.Has(FormatItalic) {
		open += "*"
	}
	for i := len(open) - 1; i >= 0; i-- {
		close += string(open[i])
	}
	return lead + open + core + close + trail
}

// escapeText backslash-escapes characters that would otherwise be read as
// markdown syntax.
func escapeText(s string, atLineStart bool) string {
	var b strings.Builder
	lineStart := atLineStart
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if lineStart {
			b.WriteString(escapeLineStart(s[i:]))
		}
		lineStart = r == '\n'

		switch r {
		case '*', '`':
			b.WriteByte('\\')
		case '\\':
			if i+1 < len(s) && isASCIIPunct(s[i+1]) {
				b.WriteByte('\\')
			}
		case '_':
			if !isWordRune(prevRune(s, i)) || !isWordRune(nextRune(s, i+size)) {
				b.WriteByte('\\')
			}
		case '~':
			if strings.HasPrefix(s[i:], "~~") {
				b.WriteByte('\\')
			}
		case '[':
			if strings.Contains(s[i:], "](") {
				b.WriteByte('\\')
			}
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// escapeLineStart returns the escape prefix needed for a line that would
// otherwise open a block (heading, quote, list item).
func escapeLineStart(line string) string {
	switch {
	case strings.HasPrefix(line, "#"), strings.HasPrefix(line, ">"):
		return "\\"
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "+ "):
		return "\\"
	}
	return ""
}

func isASCIIPunct(c byte) bool {
	return c < utf8.RuneSelf && unicode.IsPunct(rune(c)) || strings.IndexByte("$+<=>^`|~", c) >= 0
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func prevRune(s string, i int) rune {
	if i == 0 {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return r
}

func nextRune(s string, i int) rune {
	if i >= len(s) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r
}
